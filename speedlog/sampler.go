package speedlog

import (
	"context"
	"log"
	"math"
	"os"
	"time"

	"github.com/pkg/errors"
)

const (
	// LogInterval is the cadence of the CSV logging variant.
	LogInterval = 10 * time.Minute
	// WatchInterval is the cadence of the console-only variant.
	WatchInterval = time.Minute

	backoffMaxFactor = 8

	maxDelay = time.Duration(math.MaxInt64)
)

var defaultLogger = log.New(os.Stderr, "", 0)

// Backoff spaces out retries after consecutive failed cycles: the n-th
// failure in a row waits Initial * 2^(n-1), capped at Max. A Max <= 0 leaves
// the delay uncapped; it still saturates instead of overflowing.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

func (b Backoff) Delay(failures int) time.Duration {
	if b.Initial <= 0 {
		return 0
	}

	delay := b.Initial

	for iter := 1; iter < failures; iter += 1 {
		if b.Max > 0 && delay >= b.Max {
			break
		}
		if delay > maxDelay/2 {
			delay = maxDelay
			break
		}
		delay *= 2
	}

	if b.Max > 0 && delay > b.Max {
		delay = b.Max
	}

	return delay
}

// DownloadObserver is implemented by sinks that want the download rate as soon
// as the download measurement ends, before the upload starts.
type DownloadObserver interface {
	ObserveDownload(bps float64)
}

// Sampler runs measurement cycles against a Provider and hands every
// successful Sample to its Sinks in order. Only Provider is required; the
// zero Backoff follows Interval.
type Sampler struct {
	Provider Provider
	Sinks    []Sink
	Interval time.Duration
	Backoff  Backoff
	// KeepGoing makes Run log failed cycles and retry instead of returning.
	KeepGoing bool
	Metrics   *Metrics
	Logger    *log.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewSampler(provider Provider, interval time.Duration, sinks ...Sink) *Sampler {
	return &Sampler{
		Provider: provider,
		Sinks:    sinks,
		Interval: interval,
		Backoff: Backoff{
			Initial: interval,
			Max:     backoffMaxFactor * interval,
		},
		Logger: defaultLogger,
		now:    time.Now,
		sleep:  sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sampler) currentTime() time.Time {
	if s.now == nil {
		return time.Now()
	}
	return s.now()
}

func (s *Sampler) wait(ctx context.Context, d time.Duration) error {
	if s.sleep == nil {
		return sleepContext(ctx, d)
	}
	return s.sleep(ctx, d)
}

func (s *Sampler) logger() *log.Logger {
	if s.Logger == nil {
		return defaultLogger
	}
	return s.Logger
}

func (s *Sampler) backoff() Backoff {
	if s.Backoff.Initial <= 0 {
		return Backoff{Initial: s.Interval, Max: backoffMaxFactor * s.Interval}
	}
	return s.Backoff
}

func (s *Sampler) measure(ctx context.Context) (*Sample, error) {
	if err := s.Provider.SelectBestEndpoint(ctx); err != nil {
		return nil, &CycleError{Stage: StageSelect, Err: errors.Wrap(err, "could not select an endpoint")}
	}

	start := s.currentTime()

	downloadBPS, err := s.Provider.MeasureDownload(ctx)
	if err != nil {
		return nil, &CycleError{Stage: StageDownload, Err: errors.Wrap(err, "downlink measurement failed")}
	}

	for _, sink := range s.Sinks {
		if observer, ok := sink.(DownloadObserver); ok {
			observer.ObserveDownload(downloadBPS)
		}
	}

	uploadBPS, err := s.Provider.MeasureUpload(ctx)
	if err != nil {
		return nil, &CycleError{Stage: StageUpload, Err: errors.Wrap(err, "uplink measurement failed")}
	}

	return &Sample{
		Timestamp:   start,
		DownloadBPS: downloadBPS,
		UploadBPS:   uploadBPS,
		Duration:    s.currentTime().Sub(start),
	}, nil
}

func (s *Sampler) record(sample *Sample) error {
	for _, sink := range s.Sinks {
		if err := sink.Record(sample); err != nil {
			return &CycleError{Stage: StageRecord, Err: err}
		}
	}

	return nil
}

// RunOnce performs a single cycle. Nothing is recorded unless both measurements
// succeeded.
func (s *Sampler) RunOnce(ctx context.Context) (*Sample, error) {
	sample, err := s.measure(ctx)
	if err == nil {
		err = s.record(sample)
	}

	if s.Metrics != nil {
		s.Metrics.ObserveCycle(sample, err)
	}

	if err != nil {
		return nil, err
	}

	return sample, nil
}

// Run performs cycles separated by Interval until cycles have been run, or
// forever when cycles <= 0. A failed cycle ends the run unless KeepGoing is
// set. Cancelling ctx ends the run with ctx.Err().
func (s *Sampler) Run(ctx context.Context, cycles int) error {
	if s.Interval <= 0 {
		return errors.Errorf("interval must be positive, got %s", s.Interval)
	}

	backoff := s.backoff()
	failures := 0

	for cycle := 1; ; cycle += 1 {
		_, err := s.RunOnce(ctx)
		delay := s.Interval

		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if !s.KeepGoing {
				return err
			}

			failures += 1
			delay = backoff.Delay(failures)
			s.logger().Printf("Cycle %d failed (%d in a row), next attempt in %s: %v\n", cycle, failures, delay, err)
		} else {
			failures = 0
		}

		if cycles > 0 && cycle >= cycles {
			return nil
		}

		if err := s.wait(ctx, delay); err != nil {
			return err
		}
	}
}

func (s *Sampler) RunForever(ctx context.Context) error {
	return s.Run(ctx, 0)
}

package speedlog

import (
	"bytes"
	"context"
	"io"
	"log"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
	"gotest.tools/v3/fs"
)

type injectedFailure struct {
	stage Stage
	err   error
}

type fakeProvider struct {
	downloadBPS float64
	uploadBPS   float64
	// keyed by cycle number, starting at 1
	failures map[int]injectedFailure

	cycle int
	calls []string
}

func (p *fakeProvider) failure(stage Stage) error {
	if failure, ok := p.failures[p.cycle]; ok && failure.stage == stage {
		return failure.err
	}
	return nil
}

func (p *fakeProvider) SelectBestEndpoint(ctx context.Context) error {
	p.cycle += 1
	p.calls = append(p.calls, "select")
	return p.failure(StageSelect)
}

func (p *fakeProvider) MeasureDownload(ctx context.Context) (float64, error) {
	p.calls = append(p.calls, "download")
	if err := p.failure(StageDownload); err != nil {
		return 0, err
	}
	return p.downloadBPS, nil
}

func (p *fakeProvider) MeasureUpload(ctx context.Context) (float64, error) {
	p.calls = append(p.calls, "upload")
	if err := p.failure(StageUpload); err != nil {
		return 0, err
	}
	return p.uploadBPS, nil
}

type memorySink struct {
	samples []*Sample
	err     error
}

func (s *memorySink) Record(sample *Sample) error {
	if s.err != nil {
		return s.err
	}
	s.samples = append(s.samples, sample)
	return nil
}

var errNetworkUnreachable = errors.New("network is unreachable")

func newTestSampler(provider Provider, sinks ...Sink) (*Sampler, *[]time.Duration) {
	s := NewSampler(provider, LogInterval, sinks...)
	s.Logger = log.New(io.Discard, "", 0)

	clock := time.Unix(1700000000, 0)
	s.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	sleeps := []time.Duration{}
	s.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		clock = clock.Add(d)
		return ctx.Err()
	}

	return s, &sleeps
}

func readRows(t *testing.T, path string) []string {
	t.Helper()

	content, err := os.ReadFile(path)
	assert.NilError(t, err)

	return strings.Split(strings.TrimSuffix(string(content), "\r\n"), "\r\n")
}

func TestRunOnce_Success(t *testing.T) {
	provider := &fakeProvider{downloadBPS: 100_000_000, uploadBPS: 24_000_000}
	sink := &memorySink{}
	s, _ := newTestSampler(provider, sink)

	sample, err := s.RunOnce(context.Background())

	assert.NilError(t, err)
	assert.DeepEqual(t, provider.calls, []string{"select", "download", "upload"})
	assert.Assert(t, sample.Timestamp.Equal(time.Unix(1700000001, 0)))
	assert.Equal(t, sample.Duration, time.Second)
	assert.Equal(t, sample.DownloadRate(), "12.50")
	assert.Equal(t, sample.UploadRate(), "3.00")
	assert.Equal(t, len(sink.samples), 1)
	assert.Equal(t, sink.samples[0], sample)
}

func TestRunOnce_DownloadFailureAppendsNothing(t *testing.T) {
	dir := fs.NewDir(t, "speedlog")
	defer dir.Remove()
	logPath := dir.Join(DefaultLogPath)

	provider := &fakeProvider{
		downloadBPS: 100_000_000,
		uploadBPS:   24_000_000,
		failures:    map[int]injectedFailure{1: {stage: StageDownload, err: errNetworkUnreachable}},
	}
	s, _ := newTestSampler(provider, NewCSVLog(logPath))

	sample, err := s.RunOnce(context.Background())

	assert.Assert(t, sample == nil)
	assert.ErrorIs(t, err, errNetworkUnreachable)
	stage, ok := StageOf(err)
	assert.Assert(t, ok)
	assert.Equal(t, stage, StageDownload)
	assert.Equal(t, errors.Cause(err), errNetworkUnreachable)
	assert.DeepEqual(t, provider.calls, []string{"select", "download"})

	_, statErr := os.Stat(logPath)
	assert.Assert(t, os.IsNotExist(statErr))
}

func TestRunOnce_SelectionFailure(t *testing.T) {
	provider := &fakeProvider{
		failures: map[int]injectedFailure{1: {stage: StageSelect, err: errNetworkUnreachable}},
	}
	sink := &memorySink{}
	s, _ := newTestSampler(provider, sink)

	_, err := s.RunOnce(context.Background())

	assert.ErrorContains(t, err, "select stage failed: could not select an endpoint")
	assert.DeepEqual(t, provider.calls, []string{"select"})
	assert.Equal(t, len(sink.samples), 0)
}

func TestRunOnce_SinkFailure(t *testing.T) {
	provider := &fakeProvider{downloadBPS: 1, uploadBPS: 1}
	s, _ := newTestSampler(provider, &memorySink{err: errors.New("disk full")})

	_, err := s.RunOnce(context.Background())

	stage, ok := StageOf(err)
	assert.Assert(t, ok)
	assert.Equal(t, stage, StageRecord)
	assert.ErrorContains(t, err, "disk full")
}

func TestRun_AppendsOneRowPerCycle(t *testing.T) {
	dir := fs.NewDir(t, "speedlog", fs.WithFile(DefaultLogPath, "timestamp,download,upload\r\n"))
	defer dir.Remove()
	logPath := dir.Join(DefaultLogPath)

	provider := &fakeProvider{downloadBPS: 100_000_000, uploadBPS: 24_000_000}
	s, sleeps := newTestSampler(provider, NewCSVLog(logPath))

	assert.NilError(t, s.Run(context.Background(), 3))

	rows := readRows(t, logPath)
	assert.DeepEqual(t, rows, []string{
		"timestamp,download,upload",
		"1700000001.0,12.50,3.00",
		"1700000603.0,12.50,3.00",
		"1700001205.0,12.50,3.00",
	})
	assert.DeepEqual(t, *sleeps, []time.Duration{LogInterval, LogInterval})
}

func TestRun_TimestampsAreNonDecreasing(t *testing.T) {
	provider := &fakeProvider{downloadBPS: 1, uploadBPS: 1}
	sink := &memorySink{}
	s, _ := newTestSampler(provider, sink)

	assert.NilError(t, s.Run(context.Background(), 5))

	assert.Equal(t, len(sink.samples), 5)
	for index := 1; index < len(sink.samples); index += 1 {
		assert.Assert(t, !sink.samples[index].Timestamp.Before(sink.samples[index-1].Timestamp))
	}
}

func TestRun_StopsOnFailure(t *testing.T) {
	provider := &fakeProvider{
		downloadBPS: 1,
		uploadBPS:   1,
		failures:    map[int]injectedFailure{2: {stage: StageUpload, err: errNetworkUnreachable}},
	}
	sink := &memorySink{}
	s, sleeps := newTestSampler(provider, sink)

	err := s.Run(context.Background(), 5)

	assert.ErrorIs(t, err, errNetworkUnreachable)
	assert.Equal(t, len(sink.samples), 1)
	assert.DeepEqual(t, *sleeps, []time.Duration{LogInterval})
}

func TestRun_KeepGoingBacksOff(t *testing.T) {
	provider := &fakeProvider{
		downloadBPS: 1,
		uploadBPS:   1,
		failures: map[int]injectedFailure{
			2: {stage: StageDownload, err: errNetworkUnreachable},
			3: {stage: StageSelect, err: errNetworkUnreachable},
		},
	}
	sink := &memorySink{}
	s, sleeps := newTestSampler(provider, sink)
	s.KeepGoing = true
	out := &bytes.Buffer{}
	s.Logger = log.New(out, "", 0)

	assert.NilError(t, s.Run(context.Background(), 5))

	assert.Equal(t, len(sink.samples), 3)
	assert.DeepEqual(t, *sleeps, []time.Duration{LogInterval, LogInterval, 2 * LogInterval, LogInterval})
	assert.Assert(t, is.Contains(out.String(), "Cycle 2 failed (1 in a row)"))
	assert.Assert(t, is.Contains(out.String(), "Cycle 3 failed (2 in a row)"))
}

func TestRunForever_StopsOnCancel(t *testing.T) {
	provider := &fakeProvider{downloadBPS: 1, uploadBPS: 1}
	sink := &memorySink{}
	s, _ := newTestSampler(provider, sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sleeps := 0
	s.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps += 1
		if sleeps == 2 {
			cancel()
		}
		return ctx.Err()
	}

	err := s.RunForever(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, len(sink.samples), 2)
}

func TestSleepContext(t *testing.T) {
	assert.NilError(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}

func TestBackoff_Delay(t *testing.T) {
	b := Backoff{Initial: time.Minute, Max: 5 * time.Minute}

	assert.Equal(t, b.Delay(0), time.Minute)
	assert.Equal(t, b.Delay(1), time.Minute)
	assert.Equal(t, b.Delay(2), 2*time.Minute)
	assert.Equal(t, b.Delay(3), 4*time.Minute)
	assert.Equal(t, b.Delay(4), 5*time.Minute)
	assert.Equal(t, b.Delay(100), 5*time.Minute)
}

func TestRun_RejectsNonPositiveInterval(t *testing.T) {
	for _, interval := range []time.Duration{0, -10 * time.Minute} {
		provider := &fakeProvider{downloadBPS: 1, uploadBPS: 1}
		s, _ := newTestSampler(provider)
		s.Interval = interval
		s.KeepGoing = true

		err := s.Run(context.Background(), 3)

		assert.ErrorContains(t, err, "interval must be positive")
		assert.Equal(t, len(provider.calls), 0)
	}
}

func TestRun_ZeroValueSampler(t *testing.T) {
	provider := &fakeProvider{
		downloadBPS: 100_000_000,
		uploadBPS:   24_000_000,
		failures:    map[int]injectedFailure{1: {stage: StageDownload, err: errNetworkUnreachable}},
	}
	sink := &memorySink{}
	s := &Sampler{Provider: provider, Sinks: []Sink{sink}, Interval: time.Millisecond, KeepGoing: true}

	assert.NilError(t, s.Run(context.Background(), 2))

	assert.Equal(t, len(sink.samples), 1)
	assert.Equal(t, sink.samples[0].DownloadRate(), "12.50")
	assert.Equal(t, s.backoff(), Backoff{Initial: time.Millisecond, Max: 8 * time.Millisecond})
}

func TestBackoff_NonPositiveInitial(t *testing.T) {
	b := Backoff{Initial: -10 * time.Minute, Max: -80 * time.Minute}

	for _, failures := range []int{1, 24, 25, 100} {
		assert.Equal(t, b.Delay(failures), time.Duration(0))
	}
}

func TestBackoff_UncappedSaturates(t *testing.T) {
	b := Backoff{Initial: time.Minute}

	assert.Equal(t, b.Delay(3), 4*time.Minute)
	assert.Equal(t, b.Delay(100), maxDelay)
	assert.Assert(t, b.Delay(1000) > 0)
}

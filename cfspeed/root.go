package cfspeed

import (
	"context"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

const (
	DefaultEndpoint = "https://speed.cloudflare.com"

	defaultDialTimeout = 10 * time.Second

	rttMeasurementSamples     = 20
	rttMeasurementSoftTimeout = 2 * time.Second // Sampling stops once exceeding this duration

	adaptiveMeasurementBytesMin      = int64(64 * 1024)         // 64 KiB
	adaptiveMeasurementBytesMax      = int64(256 * 1024 * 1024) // 256 MiB
	adaptiveMeasurementExpBase       = 2                        // 64 k, 128 k, 256 k, 512 k, 1 M, 2 M, 4 M, 8 M, 16 M, 32 M, 64 M, 128 M, 256 M
	adaptiveMeasurementTimeThreshold = 2 * time.Second
	adaptiveMeasurementCount         = 5
)

// ErrNoEndpoint is returned by MeasureDownload and MeasureUpload when SelectBestEndpoint has
// not succeeded yet.
var ErrNoEndpoint = errors.New("no endpoint selected")

type AdaptiveParams struct {
	BytesMin      int64
	BytesMax      int64
	ExpBase       int64
	TimeThreshold time.Duration
	Count         int
}

func DefaultAdaptiveParams() AdaptiveParams {
	return AdaptiveParams{
		BytesMin:      adaptiveMeasurementBytesMin,
		BytesMax:      adaptiveMeasurementBytesMax,
		ExpBase:       adaptiveMeasurementExpBase,
		TimeThreshold: adaptiveMeasurementTimeThreshold,
		Count:         adaptiveMeasurementCount,
	}
}

// Client measures throughput against Cloudflare-style speed test endpoints
// (`/__down` and `/__up`). The zero value is not usable; use NewClient.
type Client struct {
	HTTPClient     *http.Client
	Endpoints      []string
	RTTSamples     int
	RTTSoftTimeout time.Duration
	Adaptive       AdaptiveParams

	// Printer receives per-measurement details when set.
	Printer *log.Logger

	selected *Endpoint
}

func NewTransport(protocol string, dialTimeout time.Duration) *http.Transport {
	// cf. https://go.googlesource.com/go/+/refs/tags/go1.22.1/src/net/http/transport.go#43
	// cf. https://go.googlesource.com/go/+/refs/tags/go1.22.1/src/net/http/transport.go#140
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: func(ctx context.Context, _, addr string) (net.Conn, error) {
			return (&net.Dialer{
				Timeout:   dialTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext(ctx, protocol, addr)
		},
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// NewClient returns a Client dialing over transportProtocol ("tcp", "tcp4"
// or "tcp6"). With no endpoints given, DefaultEndpoint is used.
func NewClient(transportProtocol string, endpoints ...string) *Client {
	if len(endpoints) == 0 {
		endpoints = []string{DefaultEndpoint}
	}

	return &Client{
		HTTPClient:     &http.Client{Transport: NewTransport(transportProtocol, defaultDialTimeout)},
		Endpoints:      endpoints,
		RTTSamples:     rttMeasurementSamples,
		RTTSoftTimeout: rttMeasurementSoftTimeout,
		Adaptive:       DefaultAdaptiveParams(),
	}
}

// Selected returns the endpoint picked by the last successful
// SelectBestEndpoint, or nil.
func (c *Client) Selected() *Endpoint {
	return c.selected
}

// SelectBestEndpoint measures the RTT of every configured endpoint and keeps the one with
// the lowest mean RTT. Endpoints that fail are skipped; it fails only when
// none answered.
func (c *Client) SelectBestEndpoint(ctx context.Context) error {
	c.selected = nil

	var best *Endpoint
	var lastErr error

	for _, baseURL := range c.Endpoints {
		if err := ctx.Err(); err != nil {
			return err
		}

		metadata, err := c.getMeasurementMetadata(ctx, baseURL)
		if err != nil {
			lastErr = errors.Wrapf(err, "could not fetch metadata from %s", baseURL)
			continue
		}

		rttStats, err := c.measureRTT(ctx, baseURL)
		if err != nil {
			lastErr = errors.Wrapf(err, "RTT measurement against %s failed", baseURL)
			continue
		}

		if best == nil || rttStats.Mean < best.RTT.Mean {
			best = &Endpoint{
				BaseURL:  baseURL,
				Metadata: metadata,
				RTT:      rttStats,
			}
		}
	}

	if best == nil {
		if lastErr == nil {
			lastErr = errors.New("no endpoints configured")
		}
		return lastErr
	}

	c.selected = best
	if c.Printer != nil {
		printEndpoint(c.Printer, best)
	}

	return nil
}

// MeasureDownload returns the downlink throughput in bits per second.
func (c *Client) MeasureDownload(ctx context.Context) (float64, error) {
	return c.measure(ctx, DirectionDownlink, "Downlink")
}

// MeasureUpload returns the uplink throughput in bits per second.
func (c *Client) MeasureUpload(ctx context.Context) (float64, error) {
	return c.measure(ctx, DirectionUplink, "Uplink")
}

func (c *Client) measure(ctx context.Context, direction Direction, label string) (float64, error) {
	if c.selected == nil {
		return 0, ErrNoEndpoint
	}

	stats, err := c.measureSpeedAdaptive(ctx, c.selected.BaseURL, direction)
	if err != nil {
		return 0, err
	}

	if c.Printer != nil {
		printSpeedMeasurement(c.Printer, label, stats)
		c.Printer.Println()
	}

	// Mbps to bps
	return stats.CatSpeed * 1000 * 1000, nil
}

package cfspeed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	downPathTemplate = "%s/__down?bytes=%d"
	upPathTemplate   = "%s/__up?bytes=%d"
)

func downURL(baseURL string, size int64) string {
	return fmt.Sprintf(downPathTemplate, strings.TrimRight(baseURL, "/"), size)
}

func upURL(baseURL string, size int64) string {
	return fmt.Sprintf(upPathTemplate, strings.TrimRight(baseURL, "/"), size)
}

func flushHTTPResponse(resp *http.Response, sink io.Writer) (int64, error) {
	flushedSize, err := io.Copy(sink, resp.Body)
	closeErr := resp.Body.Close()
	if err != nil {
		return 0, errors.Wrap(err, "could not read response body")
	}
	if closeErr != nil {
		return 0, errors.Wrap(closeErr, "could not close response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, errors.Errorf("unexpected HTTP status: %s", resp.Status)
	}

	return flushedSize, nil
}

func (c *Client) getMeasurementMetadata(ctx context.Context, baseURL string) (*MeasurementMetadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downURL(baseURL, 0), nil)
	if err != nil {
		return nil, errors.Wrap(err, "could not build metadata request")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	_, err = flushHTTPResponse(resp, io.Discard)
	if err != nil {
		return nil, err
	}

	srcCity := resp.Header.Get("cf-meta-city")
	if srcCity == "" {
		srcCity = "N/A"
	}

	srcCountry := resp.Header.Get("cf-meta-country")
	if srcCountry == "" {
		srcCountry = "N/A"
	}

	return &MeasurementMetadata{
		SrcIP:      resp.Header.Get("cf-meta-ip"),
		SrcASN:     resp.Header.Get("cf-meta-asn"),
		SrcCity:    srcCity,
		SrcCountry: srcCountry,
		DstColo:    resp.Header.Get("cf-meta-colo"),
	}, nil
}

// measureRTT times empty uploads. It stops after RTTSamples samples or once
// RTTSoftTimeout has passed, whichever comes first, but always takes one.
func (c *Client) measureRTT(ctx context.Context, baseURL string) (*Stats, error) {
	durations := []time.Duration{}

	for start := time.Now(); len(durations) < c.RTTSamples; {
		if len(durations) > 0 && time.Since(start) > c.RTTSoftTimeout {
			break
		}

		measurement, err := c.measureUplinkOnce(ctx, baseURL, 0)
		if err != nil {
			return nil, err
		}
		durations = append(durations, measurement.Duration)
	}

	return getDurationMSStats(durations), nil
}

func (c *Client) measureDownlinkOnce(ctx context.Context, baseURL string, size int64) (*SpeedMeasurement, error) {
	sampler := InitSamplingReaderWriter(IOModeWrite, size)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downURL(baseURL, size), nil)
	if err != nil {
		return nil, errors.Wrap(err, "could not build download request")
	}

	start := time.Now()
	sampler.mark(start)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	downloadedSize, err := flushHTTPResponse(resp, sampler)
	if err != nil {
		return nil, err
	}

	end := time.Now()

	return &SpeedMeasurement{
		Direction: DirectionDownlink,
		Size:      downloadedSize,
		Start:     start,
		End:       end,
		Duration:  end.Sub(start),
		IOSampler: sampler.IOSampler,
	}, nil
}

func (c *Client) measureUplinkOnce(ctx context.Context, baseURL string, size int64) (*SpeedMeasurement, error) {
	sampler := InitSamplingReaderWriter(IOModeRead, size)

	var body io.Reader = sampler
	if size == 0 {
		body = http.NoBody
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, upURL(baseURL, size), body)
	if err != nil {
		return nil, errors.Wrap(err, "could not build upload request")
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", "application/octet-stream")

	start := time.Now()
	sampler.mark(start)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}

	end := time.Now()

	_, err = flushHTTPResponse(resp, io.Discard)
	if err != nil {
		return nil, err
	}

	return &SpeedMeasurement{
		Direction: DirectionUplink,
		Size:      size,
		Start:     start,
		End:       end,
		Duration:  end.Sub(start),
		IOSampler: sampler.IOSampler,
	}, nil
}

// measureSpeedAdaptive grows the transfer size until a single transfer lasts
// at least TimeThreshold (or BytesMax is reached), then keeps Count transfers
// of that size.
func (c *Client) measureSpeedAdaptive(ctx context.Context, baseURL string, direction Direction) (*SpeedMeasurementStats, error) {
	measurementFunc := c.measureDownlinkOnce
	if direction == DirectionUplink {
		measurementFunc = c.measureUplinkOnce
	}

	params := c.Adaptive
	if params.ExpBase < 2 {
		params.ExpBase = 2
	}
	if params.Count < 1 {
		params.Count = 1
	}

	measurements := []*SpeedMeasurement{}
	measurementBytes := params.BytesMin

	for len(measurements) < params.Count {
		measurement, err := measurementFunc(ctx, baseURL, measurementBytes)
		if err != nil {
			return nil, errors.Wrapf(err, "transfer of %d bytes failed", measurementBytes)
		}

		if len(measurements) == 0 && measurement.Duration < params.TimeThreshold && measurementBytes < params.BytesMax {
			measurementBytes *= params.ExpBase
			if measurementBytes > params.BytesMax {
				measurementBytes = params.BytesMax
			}
			continue
		}

		measurements = append(measurements, measurement)
	}

	catSpeed, stats := getSpeedMeasurementStats(measurements)

	return &SpeedMeasurementStats{
		Stats:    *stats,
		CatSpeed: catSpeed,
		TXSize:   measurementBytes,
		NTX:      len(measurements),
	}, nil
}

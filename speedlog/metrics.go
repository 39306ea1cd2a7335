package speedlog

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	metricsShutdownTimeout = 5 * time.Second

	resultSuccess = "success"
	resultFailure = "failure"
)

// Metrics exposes the latest sample and cycle outcomes to Prometheus.
type Metrics struct {
	registry *prometheus.Registry

	downloadGauge   prometheus.Gauge
	uploadGauge     prometheus.Gauge
	durationGauge   prometheus.Gauge
	lastSampleGauge prometheus.Gauge
	cycleCounter    *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		downloadGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "speedlog_download_megabytes_per_second",
			Help: "Download throughput of the last successful cycle in MB/s",
		}),
		uploadGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "speedlog_upload_megabytes_per_second",
			Help: "Upload throughput of the last successful cycle in MB/s",
		}),
		durationGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "speedlog_measurement_duration_seconds",
			Help: "Time spent measuring download and upload in the last successful cycle",
		}),
		lastSampleGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "speedlog_last_sample_timestamp_seconds",
			Help: "Unix time of the last successful cycle",
		}),
		cycleCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "speedlog_cycles_total",
				Help: "Measurement cycles by result and failing stage",
			},
			[]string{"result", "stage"},
		),
	}

	m.registry.MustRegister(
		m.downloadGauge,
		m.uploadGauge,
		m.durationGauge,
		m.lastSampleGauge,
		m.cycleCounter,
	)

	return m
}

func (m *Metrics) ObserveCycle(sample *Sample, err error) {
	if err != nil {
		stage, ok := StageOf(err)
		if !ok {
			stage = "unknown"
		}
		m.cycleCounter.WithLabelValues(resultFailure, string(stage)).Inc()
		return
	}

	m.cycleCounter.WithLabelValues(resultSuccess, "").Inc()
	m.downloadGauge.Set(sample.DownloadBPS / bitsPerMegabyte)
	m.uploadGauge.Set(sample.UploadBPS / bitsPerMegabyte)
	m.durationGauge.Set(sample.Duration.Seconds())
	m.lastSampleGauge.Set(float64(sample.Timestamp.UnixMicro()) / 1e6)
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		return errors.Wrapf(err, "metrics server on %s stopped", addr)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "could not shut down metrics server")
		}
		return nil
	}
}

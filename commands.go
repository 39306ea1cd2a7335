package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/makotom/speedlog/cfspeed"
	"github.com/makotom/speedlog/config"
	"github.com/makotom/speedlog/speedlog"
)

type rootOpts struct {
	testIP4   bool
	testIP6   bool
	endpoints []string
	verbose   bool
	maxBytes  int64
	transfers int

	printer *log.Logger
	logger  *log.Logger
}

type samplingOpts struct {
	interval  time.Duration
	count     int
	keepGoing bool
}

func (o *rootOpts) transportProtocol() string {
	switch {
	case o.testIP4:
		return "tcp4"
	case o.testIP6:
		return "tcp6"
	default:
		return "tcp"
	}
}

func (o *rootOpts) newProvider() *cfspeed.Client {
	client := cfspeed.NewClient(o.transportProtocol(), o.endpoints...)
	if o.verbose {
		client.Printer = o.printer
	}

	client.Adaptive.BytesMax = o.maxBytes
	if client.Adaptive.BytesMin > o.maxBytes {
		client.Adaptive.BytesMin = o.maxBytes
	}
	client.Adaptive.Count = o.transfers

	return client
}

func (o *rootOpts) newSampler(sampling *samplingOpts, sinks ...speedlog.Sink) *speedlog.Sampler {
	sampler := speedlog.NewSampler(o.newProvider(), sampling.interval, sinks...)
	sampler.KeepGoing = sampling.keepGoing
	sampler.Logger = o.logger

	return sampler
}

func addSamplingFlags(flags *pflag.FlagSet, sampling *samplingOpts, defaultInterval time.Duration, defaultKeepGoing bool) {
	flags.DurationVar(&sampling.interval, "interval", defaultInterval, "Time between two measurement cycles")
	flags.IntVarP(&sampling.count, "count", "n", 0, "Stop after this many cycles (0 runs until interrupted)")
	flags.BoolVar(&sampling.keepGoing, "keep-going", defaultKeepGoing, "Log failed cycles and retry with backoff instead of exiting")
}

func (o *rootOpts) validate() error {
	if o.maxBytes <= 0 {
		return errors.Errorf("--max-bytes must be positive, got %d", o.maxBytes)
	}
	if o.transfers <= 0 {
		return errors.Errorf("--transfers must be positive, got %d", o.transfers)
	}

	return nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}

func newRootCmd(cfg *config.Config, printer, logger *log.Logger) *cobra.Command {
	opts := &rootOpts{
		printer: printer,
		logger:  logger,
	}

	cmd := &cobra.Command{
		Use:           "speedlog",
		Short:         "Periodically measure network throughput and keep the results",
		Version:       fmt.Sprintf("%s (%s)", BuildName, BuildAnnotation),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.validate()
		},
	}
	cmd.SetVersionTemplate("speedlog {{.Version}}\n")

	adaptive := cfspeed.DefaultAdaptiveParams()
	flags := cmd.PersistentFlags()
	flags.BoolVarP(&opts.testIP4, "ip4", "4", false, "Ensure measurements over IPv4")
	flags.BoolVarP(&opts.testIP6, "ip6", "6", false, "Ensure measurements over IPv6")
	flags.StringSliceVar(&opts.endpoints, "endpoint", cfg.Endpoints, "Base URL of a speed test endpoint; the one with the lowest RTT is used")
	flags.BoolVar(&opts.verbose, "verbose", false, "Print endpoint and transfer details of every cycle")
	flags.Int64Var(&opts.maxBytes, "max-bytes", adaptive.BytesMax, "Largest single transfer in bytes")
	flags.IntVar(&opts.transfers, "transfers", adaptive.Count, "Transfers per direction kept for the statistics")
	cmd.MarkFlagsMutuallyExclusive("ip4", "ip6")

	cmd.AddCommand(
		newLogCmd(opts, cfg),
		newWatchCmd(opts, cfg),
		newAverageCmd(opts),
		newExportCmd(opts, cfg),
	)

	return cmd
}

func newLogCmd(opts *rootOpts, cfg *config.Config) *cobra.Command {
	sampling := &samplingOpts{}
	var logPath, metricsAddr string

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Append download and upload speeds to a CSV file at a fixed interval",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sampler := opts.newSampler(sampling, speedlog.NewCSVLog(logPath))

			if metricsAddr == "" {
				return ignoreCanceled(sampler.Run(cmd.Context(), sampling.count))
			}

			sampler.Metrics = speedlog.NewMetrics()

			g, gCtx := errgroup.WithContext(cmd.Context())
			runCtx, cancel := context.WithCancel(gCtx)
			defer cancel()

			g.Go(func() error {
				defer cancel()
				return sampler.Run(runCtx, sampling.count)
			})
			g.Go(func() error {
				return sampler.Metrics.Serve(runCtx, metricsAddr)
			})

			return ignoreCanceled(g.Wait())
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&logPath, "file", "f", cfg.LogPath, "CSV file the samples are appended to")
	flags.StringVar(&metricsAddr, "metrics-addr", cfg.MetricsAddr, "Serve Prometheus metrics on this address (disabled when empty)")
	addSamplingFlags(flags, sampling, cfg.LogInterval, cfg.KeepGoing)

	return cmd
}

func newWatchCmd(opts *rootOpts, cfg *config.Config) *cobra.Command {
	sampling := &samplingOpts{}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print download and upload speeds at a fixed interval",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sampler := opts.newSampler(sampling, speedlog.NewConsolePrinter(opts.printer))

			return ignoreCanceled(sampler.Run(cmd.Context(), sampling.count))
		},
	}

	addSamplingFlags(cmd.Flags(), sampling, cfg.WatchInterval, cfg.KeepGoing)

	return cmd
}

func newAverageCmd(opts *rootOpts) *cobra.Command {
	var column int

	cmd := &cobra.Command{
		Use:   "average FILE",
		Short: "Append the average of a CSV column to the file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			average, err := speedlog.AppendAverage(args[0], column)
			if err != nil {
				return err
			}

			opts.printer.Printf("%s: %v\n", speedlog.AverageLabel, average)
			return nil
		},
	}

	cmd.Flags().IntVarP(&column, "column", "c", speedlog.DefaultAverageColumn, "Zero-based index of the column to average")

	return cmd
}

func newExportCmd(opts *rootOpts, cfg *config.Config) *cobra.Command {
	var logPath, outPath string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Convert the CSV log into a Parquet file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			count, err := speedlog.ExportLog(logPath, outPath)
			if err != nil {
				return err
			}

			opts.printer.Printf("Exported %d samples to %s\n", count, outPath)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&logPath, "file", "f", cfg.LogPath, "CSV log to read")
	flags.StringVarP(&outPath, "out", "o", "", "Parquet file to write")
	_ = cmd.MarkFlagRequired("out")

	return cmd
}

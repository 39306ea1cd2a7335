package speedlog

import (
	"log"
)

// ConsolePrinter prints samples instead of storing them. Run by a Sampler,
// the download line appears as soon as the download measurement ends.
type ConsolePrinter struct {
	Printer *log.Logger
}

func NewConsolePrinter(printer *log.Logger) *ConsolePrinter {
	return &ConsolePrinter{Printer: printer}
}

func (p *ConsolePrinter) ObserveDownload(bps float64) {
	p.Printer.Printf("Download speed   %sMB/s\n", FormatRate(bps))
}

func (p *ConsolePrinter) Record(sample *Sample) error {
	p.Printer.Printf("Upload speed   %sMB/s\n", sample.UploadRate())
	p.Printer.Printf("The test took %s seconds\n", formatFloat(sample.Duration.Seconds()))

	return nil
}

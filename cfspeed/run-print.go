package cfspeed

import (
	"log"
	"strconv"
	"strings"
)

// printField writes one `<label>-<key>: <value>` line; an empty label drops
// the prefix.
func printField(printer *log.Logger, label, key, value string) {
	if label != "" {
		key = label + "-" + key
	}
	printer.Printf("%s: %s\n", key, value)
}

func formatMilli(value float64, unit string) string {
	return strconv.FormatFloat(value, 'f', 3, 64) + " " + unit
}

func formatDeciles(deciles []float64, unit string) string {
	numStrs := make([]string, len(deciles))
	for index, decile := range deciles {
		numStrs[index] = strconv.FormatFloat(decile, 'f', 3, 64)
	}

	return "[" + strings.Join(numStrs, " ") + "] " + unit
}

// printStats covers the fields shared by RTT and throughput summaries.
func printStats(printer *log.Logger, label, unit string, stats *Stats) {
	printField(printer, label, "mean", formatMilli(stats.Mean, unit))
	printField(printer, label, "stderr", formatMilli(stats.StdErr, unit))
	printField(printer, label, "min", formatMilli(stats.Min, unit))
	printField(printer, label, "max", formatMilli(stats.Max, unit))
	printField(printer, label, "deciles", formatDeciles(stats.Deciles, unit))
}

func printEndpoint(printer *log.Logger, endpoint *Endpoint) {
	printField(printer, "", "Endpoint", endpoint.BaseURL)
	if metadata := endpoint.Metadata; metadata != nil {
		printField(printer, "", "SrcIP", metadata.SrcIP+" (AS"+metadata.SrcASN+")")
		printField(printer, "", "SrcLocation", metadata.SrcCity+", "+metadata.SrcCountry)
		printField(printer, "", "DstColocation", metadata.DstColo)
	}
	printer.Println()

	if endpoint.RTT != nil {
		printStats(printer, "RTT", "ms", endpoint.RTT)
		printField(printer, "RTT", "n", strconv.Itoa(endpoint.RTT.NSamples))
		printer.Println()
	}
}

func printSpeedMeasurement(printer *log.Logger, label string, measurement *SpeedMeasurementStats) {
	if measurement == nil {
		return
	}

	printStats(printer, label, "Mbps", &measurement.Stats)
	printField(printer, label, "cat", formatMilli(measurement.CatSpeed, "Mbps"))
	printField(printer, label, "tx", formatMilli(float64(measurement.TXSize)/1024/1024, "MiB"))
	printField(printer, label, "ntx", strconv.Itoa(measurement.NTX))
	printField(printer, label, "n", strconv.Itoa(measurement.NSamples))
}

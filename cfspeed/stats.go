package cfspeed

import (
	"math"
	"sort"
	"time"
)

const ioSamplingWindowWidth = 100 * time.Millisecond

func getMean(series []float64) float64 {
	ret := float64(0)
	nSamplesF64 := float64(len(series))

	for _, element := range series {
		ret += element / nSamplesF64
	}

	return ret
}

func getSquareMean(series []float64) float64 {
	ret := float64(0)
	nSamplesF64 := float64(len(series))

	for _, element := range series {
		ret += element * element / nSamplesF64
	}

	return ret
}

func getStdDevUsingMean(series []float64, mean float64) float64 {
	// rounding may push the variance slightly below zero for constant series
	return math.Sqrt(math.Max(getSquareMean(series)-(mean*mean), 0))
}

// getDeciles picks the 10th to 90th percentiles by nearest rank.
func getDeciles(series []float64) []float64 {
	sorted := append([]float64{}, series...)
	sort.Float64s(sorted)

	ret := []float64{}
	lastIndex := len(sorted) - 1
	for iter := 1; iter < 10; iter += 1 {
		index := int(math.Round(float64(iter*lastIndex) / 10))
		ret = append(ret, sorted[index])
	}

	return ret
}

func getF64Stats(series []float64) *Stats {
	ret := &Stats{
		Min:      math.Inf(1),
		Max:      math.Inf(-1),
		MinIndex: 0,
		MaxIndex: 0,
	}

	if len(series) == 0 {
		return ret
	}

	for index, element := range series {
		if element < ret.Min {
			ret.Min = element
			ret.MinIndex = index
		}
		if element > ret.Max {
			ret.Max = element
			ret.MaxIndex = index
		}
	}

	ret.NSamples = len(series)
	ret.Mean = getMean(series)
	ret.StdDev = getStdDevUsingMean(series, ret.Mean)
	ret.StdErr = ret.StdDev / math.Sqrt(float64(ret.NSamples))
	ret.Deciles = getDeciles(series)

	return ret
}

func getDurationMSStats(durations []time.Duration) *Stats {
	durationSamples := []float64{}

	for _, duration := range durations {
		durationMSF64 := float64(duration.Microseconds()) / 1000
		durationSamples = append(durationSamples, durationMSF64)
	}

	return getF64Stats(durationSamples)
}

// analyseIOEvents slices a transfer into windows of at least
// ioSamplingWindowWidth and returns the speed of each window in Mbps.
func analyseIOEvents(ioEvents []*IOEvent) []float64 {
	mbpsSamples := []float64{}

	if len(ioEvents) < 2 {
		return mbpsSamples
	}

	windowStart := ioEvents[0].Timestamp
	sizeSum := 0
	for index, event := range ioEvents[1:] {
		if event.Mode == IOModeRead {
			// a chunk handed out by a read is on the wire by the next read
			sizeSum += ioEvents[index].Size
		} else {
			sizeSum += event.Size
		}

		sinceStart := event.Timestamp.Sub(windowStart)
		if sinceStart > ioSamplingWindowWidth {
			mbpsSamples = append(mbpsSamples, float64(8*sizeSum)/float64(sinceStart.Microseconds()))

			windowStart = event.Timestamp
			sizeSum = 0
		}
	}

	return mbpsSamples
}

// getSpeedMeasurementStats returns the concatenated speed in Mbps along with
// the statistics of the windowed samples.
func getSpeedMeasurementStats(measurements []*SpeedMeasurement) (float64, *Stats) {
	mbpsSamples := []float64{}
	sizeSum := int64(0)
	durationSum := int64(0)

	for _, measurement := range measurements {
		mbpsSamples = append(mbpsSamples, analyseIOEvents(measurement.IOSampler.Events)...)
		sizeSum += measurement.Size
		durationSum += measurement.Duration.Microseconds()
	}

	if durationSum == 0 {
		return 0, getF64Stats(mbpsSamples)
	}

	return float64(8*sizeSum) / float64(durationSum), getF64Stats(mbpsSamples)
}

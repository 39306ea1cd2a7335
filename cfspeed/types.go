package cfspeed

import (
	"time"
)

type Direction string

const (
	DirectionDownlink Direction = "down"
	DirectionUplink   Direction = "up"
)

type IOMode string

const (
	IOModeRead  IOMode = "read"
	IOModeWrite IOMode = "write"
)

type MeasurementMetadata struct {
	SrcIP      string
	SrcASN     string
	SrcCity    string
	SrcCountry string
	DstColo    string
}

// Endpoint is a speed test server chosen by SelectBestEndpoint.
type Endpoint struct {
	BaseURL  string
	Metadata *MeasurementMetadata
	RTT      *Stats
}

type Stats struct {
	NSamples int
	Mean     float64
	StdDev   float64
	StdErr   float64
	Min      float64
	MinIndex int
	Max      float64
	MaxIndex int
	Deciles  []float64
}

type SpeedMeasurement struct {
	Direction Direction
	Size      int64
	Start     time.Time
	End       time.Time
	Duration  time.Duration
	IOSampler IOSampler
}

type SpeedMeasurementStats struct {
	Stats
	// CatSpeed is the speed over all kept transfers concatenated, in Mbps.
	CatSpeed float64
	TXSize   int64
	NTX      int
}

package speedlog

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

// Provider is a network measurement service. SelectBestEndpoint must succeed
// before the throughput measurements are meaningful. Both report bits per
// second.
type Provider interface {
	SelectBestEndpoint(ctx context.Context) error
	MeasureDownload(ctx context.Context) (float64, error)
	MeasureUpload(ctx context.Context) (float64, error)
}

// Sink consumes the samples of successful cycles.
type Sink interface {
	Record(sample *Sample) error
}

type Stage string

const (
	StageSelect   Stage = "select"
	StageDownload Stage = "download"
	StageUpload   Stage = "upload"
	StageRecord   Stage = "record"
)

// CycleError tells at which stage a cycle failed.
type CycleError struct {
	Stage Stage
	Err   error
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *CycleError) Cause() error {
	return e.Err
}

func (e *CycleError) Unwrap() error {
	return e.Err
}

// StageOf reports the stage of the CycleError in err's chain, if any.
func StageOf(err error) (Stage, bool) {
	var cycleErr *CycleError
	if errors.As(err, &cycleErr) {
		return cycleErr.Stage, true
	}

	return "", false
}

package cfspeed

import (
	"io"
	"time"
)

type IOEvent struct {
	Timestamp time.Time
	Mode      IOMode
	Size      int
}

type IOSampler struct {
	Mode        IOMode
	SizeRead    int64
	SizeWritten int64
	Events      []*IOEvent
}

// SamplingReaderWriter records every Read and Write it serves. As a reader it
// yields Quota zero bytes, as a writer it discards what it receives.
type SamplingReaderWriter struct {
	IOSampler
	Quota int64
}

func (r *SamplingReaderWriter) Read(p []byte) (int, error) {
	if r.SizeRead >= r.Quota {
		return 0, io.EOF
	}

	size := len(p)
	if r.SizeRead+int64(size) > r.Quota {
		size = int(r.Quota - r.SizeRead)
	}
	clear(p[:size])

	r.Events = append(r.Events, &IOEvent{
		Timestamp: time.Now(),
		Mode:      IOModeRead,
		Size:      size,
	})
	r.SizeRead += int64(size)

	return size, nil
}

func (w *SamplingReaderWriter) Write(p []byte) (int, error) {
	size := len(p)

	w.Events = append(w.Events, &IOEvent{
		Timestamp: time.Now(),
		Mode:      IOModeWrite,
		Size:      size,
	})
	w.SizeWritten += int64(size)

	return size, nil
}

// mark records a zero-sized event, used as the starting point of a transfer.
func (s *SamplingReaderWriter) mark(at time.Time) {
	s.Events = append(s.Events, &IOEvent{
		Timestamp: at,
		Mode:      s.Mode,
		Size:      0,
	})
}

func InitSamplingReaderWriter(mode IOMode, quota int64) *SamplingReaderWriter {
	s := &SamplingReaderWriter{}

	s.Mode = mode
	s.SizeRead = 0
	s.SizeWritten = 0
	s.Events = []*IOEvent{}
	s.Quota = quota

	return s
}

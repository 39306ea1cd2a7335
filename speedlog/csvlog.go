package speedlog

import (
	"bytes"
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const DefaultLogPath = "network-speeds.csv"

// CSVLog appends one `timestamp,download,upload` row per sample. The file is
// opened for every row and never read.
type CSVLog struct {
	Path string
}

func NewCSVLog(path string) *CSVLog {
	return &CSVLog{Path: path}
}

func (l *CSVLog) Record(sample *Sample) error {
	return appendRow(l.Path, sample.Row())
}

// appendRow encodes row first and appends it with a single write.
func appendRow(path string, row []string) (err error) {
	encoded := &bytes.Buffer{}
	writer := csv.NewWriter(encoded)
	writer.UseCRLF = true
	if err := writer.Write(row); err != nil {
		return errors.Wrap(err, "could not encode row")
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return errors.Wrap(err, "could not encode row")
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrapf(err, "could not open %s", path)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil && err == nil {
			err = errors.Wrapf(closeErr, "could not close %s", path)
		}
	}()

	if _, err := file.Write(encoded.Bytes()); err != nil {
		return errors.Wrapf(err, "could not append to %s", path)
	}

	return nil
}

// LogEntry is a sample row read back from a CSV log, rates in MB/s.
type LogEntry struct {
	Timestamp float64
	Download  float64
	Upload    float64
}

// ReadLog parses the sample rows of a CSV log. Rows not starting with a
// number, such as headers or summary rows, are skipped.
func ReadLog(path string) ([]*LogEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not open %s", path)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	entries := []*LogEntry{}
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "could not read %s", path)
		}
		line, _ := reader.FieldPos(0)

		timestamp, err := strconv.ParseFloat(strings.TrimSpace(record[0]), 64)
		if err != nil {
			continue
		}
		if len(record) < 3 {
			return nil, errors.Errorf("%s:%d: expected 3 fields, got %d", path, line, len(record))
		}

		download, err := strconv.ParseFloat(strings.TrimSpace(record[1]), 64)
		if err != nil {
			return nil, errors.Wrapf(err, "%s:%d: bad download rate", path, line)
		}
		upload, err := strconv.ParseFloat(strings.TrimSpace(record[2]), 64)
		if err != nil {
			return nil, errors.Wrapf(err, "%s:%d: bad upload rate", path, line)
		}

		entries = append(entries, &LogEntry{
			Timestamp: timestamp,
			Download:  download,
			Upload:    upload,
		})
	}

	return entries, nil
}

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

const (
	AverageLabel = "Average"

	DefaultAverageColumn = 1
)

// AppendAverage computes the mean of column over the data rows of the CSV file
// at path (the first row is a header) and appends an `Average,<mean>` row.
// Any unreadable value aborts before the file is touched.
func AppendAverage(path string, column int) (float64, error) {
	average, err := ColumnAverage(path, column)
	if err != nil {
		return 0, err
	}

	if err := appendRow(path, []string{AverageLabel, formatFloat(average)}); err != nil {
		return 0, err
	}

	return average, nil
}

func ColumnAverage(path string, column int) (float64, error) {
	if column < 0 {
		return 0, errors.Errorf("invalid column %d", column)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return 0, errors.Wrapf(err, "could not open %s", path)
	}

	reader := csv.NewReader(bytes.NewReader(content))
	reader.FieldsPerRecord = -1

	// header
	if _, err := reader.Read(); err != nil {
		if err == io.EOF {
			return 0, errors.Errorf("%s is empty", path)
		}
		return 0, errors.Wrapf(err, "could not read %s", path)
	}

	total := float64(0)
	lines := 0
	for {
		offset := reader.InputOffset()

		row, err := reader.Read()
		if err == io.EOF {
			if offset < int64(len(content)) {
				return 0, blankLineError(path, content, offset, column)
			}
			break
		}
		if err != nil {
			return 0, errors.Wrapf(err, "could not read %s", path)
		}
		if content[offset] == '\r' || content[offset] == '\n' {
			return 0, blankLineError(path, content, offset, column)
		}
		line, _ := reader.FieldPos(0)

		if column >= len(row) {
			return 0, errors.Errorf("%s:%d: no column %d", path, line, column)
		}

		value, err := strconv.ParseFloat(strings.TrimSpace(row[column]), 64)
		if err != nil {
			return 0, errors.Wrapf(err, "%s:%d: column %d is not a number", path, line, column)
		}

		total += value
		lines += 1
	}

	if lines == 0 {
		return 0, errors.Errorf("%s has no data rows", path)
	}

	return total / float64(lines), nil
}

// encoding/csv drops empty lines; a blank line is a row without the column.
func blankLineError(path string, content []byte, offset int64, column int) error {
	line := bytes.Count(content[:offset], []byte("\n")) + 1

	return errors.Errorf("%s:%d: no column %d", path, line, column)
}

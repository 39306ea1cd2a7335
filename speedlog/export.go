package speedlog

import (
	"github.com/pkg/errors"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

const parquetWriterParallelism = 4

type parquetRow struct {
	Timestamp float64 `parquet:"name=timestamp, type=DOUBLE"`
	Download  float64 `parquet:"name=download_mb_per_s, type=DOUBLE"`
	Upload    float64 `parquet:"name=upload_mb_per_s, type=DOUBLE"`
}

// ExportParquet writes entries to a Snappy-compressed Parquet file at path.
func ExportParquet(entries []*LogEntry, path string) (err error) {
	file, err := local.NewLocalFileWriter(path)
	if err != nil {
		return errors.Wrapf(err, "could not create %s", path)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil && err == nil {
			err = errors.Wrapf(closeErr, "could not close %s", path)
		}
	}()

	pw, err := writer.NewParquetWriter(file, new(parquetRow), parquetWriterParallelism)
	if err != nil {
		return errors.Wrap(err, "could not create parquet writer")
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, entry := range entries {
		row := parquetRow{
			Timestamp: entry.Timestamp,
			Download:  entry.Download,
			Upload:    entry.Upload,
		}
		if err := pw.Write(row); err != nil {
			return errors.Wrap(err, "could not write parquet row")
		}
	}

	if err := pw.WriteStop(); err != nil {
		return errors.Wrap(err, "could not finish parquet file")
	}

	return nil
}

// ExportLog converts the CSV log at logPath into a Parquet file at outPath
// and returns the number of rows written.
func ExportLog(logPath, outPath string) (int, error) {
	entries, err := ReadLog(logPath)
	if err != nil {
		return 0, err
	}

	if err := ExportParquet(entries, outPath); err != nil {
		return 0, err
	}

	return len(entries), nil
}

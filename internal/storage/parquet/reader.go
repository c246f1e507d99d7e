package parquet

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"

	"github.com/xtxerr/meteo/internal/storage/types"
)

// readBatch is the number of rows decoded per Read call.
const readBatch = 1024

// readRows opens a Parquet file from r and decodes every row.
func readRows[R any](r io.ReaderAt, size int64) ([]R, error) {
	f, err := parquet.OpenFile(r, size, parquet.ReadBufferSize(1024*1024))
	if err != nil {
		return nil, fmt.Errorf("open parquet: %w", err)
	}

	reader := parquet.NewGenericReader[R](f)
	defer reader.Close()

	rows := make([]R, 0, reader.NumRows())
	batch := make([]R, readBatch)
	for {
		n, err := reader.Read(batch)
		rows = append(rows, batch[:n]...)
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read rows: %w", err)
		}
		if n == 0 {
			return rows, nil
		}
	}
}

// ReadSamples decodes a sample file of the given size.
func ReadSamples(r io.ReaderAt, size int64) ([]types.Sample, error) {
	rows, err := readRows[SampleRow](r, size)
	if err != nil {
		return nil, err
	}

	samples := make([]types.Sample, len(rows))
	for i := range rows {
		samples[i] = RowToSample(&rows[i])
	}
	return samples, nil
}

// ReadBuckets decodes a bucket file of the given size.
func ReadBuckets(r io.ReaderAt, size int64) ([]types.BucketStatistics, error) {
	rows, err := readRows[BucketRow](r, size)
	if err != nil {
		return nil, err
	}

	buckets := make([]types.BucketStatistics, len(rows))
	for i := range rows {
		buckets[i] = RowToBucket(&rows[i])
	}
	return buckets, nil
}

// ReadSamplesFile reads all samples from the file at path.
func ReadSamplesFile(path string) ([]types.Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}

	return ReadSamples(f, stat.Size())
}

// FileInfo contains information about a Parquet file.
type FileInfo struct {
	Size       int64
	NumRows    int64
	NumColumns int
	RowGroups  int
}

// GetFileInfo returns information about a Parquet file.
func GetFileInfo(r io.ReaderAt, size int64) (*FileInfo, error) {
	pf, err := parquet.OpenFile(r, size)
	if err != nil {
		return nil, fmt.Errorf("open parquet: %w", err)
	}

	info := &FileInfo{
		Size:       size,
		NumRows:    pf.NumRows(),
		NumColumns: len(pf.Schema().Fields()),
		RowGroups:  len(pf.RowGroups()),
	}

	return info, nil
}

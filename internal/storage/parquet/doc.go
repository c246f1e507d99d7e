// Package parquet implements Parquet export of samples and bucketed statistics.
//
// The package provides:
//   - SampleWriter/SampleReader for raw samples
//   - BucketWriter/BucketReader for bucketed statistics
//   - Support for multiple compression algorithms (snappy, zstd, lz4, gzip)
//   - Type conversion between storage types and Parquet rows
//
// Writers target any io.Writer so an export can stream straight into an
// HTTP response; readers take an io.ReaderAt because Parquet keeps its
// footer at the end of the file.
package parquet

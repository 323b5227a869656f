// Package parquet implements an array store over Parquet files.
//
// The package provides:
//   - Store: one <name>.parquet file per array, read through io.ReaderAt
//   - ArrayWriter: writes an array with one row group per chunk
//   - Support for multiple compression algorithms (snappy, zstd, lz4, gzip)
//
// Elements are stored as opaque byte rows; dtype and per-element shape are
// kept in the file's key/value metadata.
package parquet

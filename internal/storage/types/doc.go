// Package types defines the core data types used throughout the storage system.
//
// Key types:
//   - Sample: one weather station reading plus its receipt timestamp
//   - Statistics: on-demand summary of a snapshot of samples
//   - Health: connectivity and fill level reported to operators
//   - Resolution: bucket width used for bucketed statistics
package types

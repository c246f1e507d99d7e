// Package storage holds the bounded, in-memory window of weather samples
// and the read-side facade over it.
//
// Architecture:
//
//	┌─────────────┐     ┌─────────────┐     ┌─────────────┐
//	│  Ingestion  │────▶│   Buffer    │◀────│    Query    │
//	│  Pipeline   │     │   (Ring)    │     │   Engine    │
//	└─────────────┘     └─────────────┘     └─────────────┘
//	                                               │
//	                                               ▼
//	                                        ┌─────────────┐
//	                                        │  Aggregate  │
//	                                        │  (DDSketch) │
//	                                        └─────────────┘
//
// One goroutine writes to the buffer; the facade serves any number of
// concurrent readers. Readers copy under the buffer's read lock and
// aggregate the copy after releasing it.
package storage

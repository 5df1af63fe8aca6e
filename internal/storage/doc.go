// Package storage is the object storage layer used by the worker services:
// the splitter writes chunks into it, mappers read chunks and write partial
// counts, the reducer reads every partial and writes the final counts.
//
// # Layout
//
// Objects are addressed by bucket and key. A word-count run over
// s3://bucket/hamlet.txt with three chunks leaves:
//
//	bucket/
//	├── hamlet.txt                 source object
//	├── chunks/chunk_0.txt         written by split
//	├── chunks/chunk_1.txt
//	├── chunks/chunk_2.txt
//	├── results/mapper_0.json      written by map
//	├── results/mapper_1.json
//	├── results/mapper_2.json
//	└── results/final_counts.json  written by reduce
//
// # Implementations
//
// MemoryStore: in-memory, guarded by sync.RWMutex
//   - No persistence; used by tests and the local worker mode
//   - Get/Put copy values so callers cannot alias stored bytes
//
// S3Store: Amazon S3 through aws-sdk-go-v2
//   - Credentials from the default chain (env, shared config, instance role)
//   - Missing objects map to ErrNotFound
//   - List follows continuation tokens
//
// The orchestrator itself never touches storage. It only passes locators to
// workers.
package storage

// Package chunk defines the units of work the orchestrator moves around and
// the rule that places them on workers.
//
// A WorkUnit is split into n Chunks. Chunks are identified by index and their
// storage locators are derived from the index alone:
//
//	chunk i   → chunks/chunk_<i>.txt
//	output i  → results/mapper_<i>.json
//
// The split worker writes chunks under the same convention, so the
// orchestrator never needs to read the split response to know where chunks
// are.
//
// # Assignment
//
// Chunk i runs on Pool.Assign(i) = pool[i mod len(pool)]:
//
//	pool = [w0, w1, w2], n = 7
//
//	chunk: 0  1  2  3  4  5  6
//	worker: w0 w1 w2 w0 w1 w2 w0
//
// Assignment is deterministic across runs and independent of load. There is
// no randomization and no rebalancing.
package chunk

// Package worker implements the word-count services driven by the
// orchestrator. A single process can serve one role or all of them.
//
// Endpoints (all GET, JSON responses):
//
//	/split?bucket=&key=&num_chunks=    source -> chunks/chunk_<i>.txt
//	/map?bucket=&key=&output_key=      chunk  -> results/mapper_<i>.json
//	/reduce?bucket=&keys=k0,k1,...     partials -> results/final_counts.json
//	/health                            {"status":"healthy"}
//
// Missing parameters and num_chunks outside 1..MaxChunks answer 400, missing objects 404 and any other storage
// failure 500. The orchestrator treats every non-200 as a failed attempt.
package worker

// Package cluster describes the HTTP contract between the orchestrator and
// its worker services and provides the single-shot transport used to talk to
// them.
//
// # Overview
//
// Every worker is an opaque HTTP service. The orchestrator never looks at
// worker internals; it builds a GET request, sends it, and interprets the
// status code and the JSON body. Three roles exist:
//
//	┌──────────────┐      ┌──────────────┐      ┌──────────────┐
//	│   Splitter   │      │  Mapper x m  │      │   Reducer    │
//	│   /split     │      │   /map       │      │   /reduce    │
//	└──────▲───────┘      └──────▲───────┘      └──────▲───────┘
//	       │                     │                     │
//	       └─────────────┬───────┴─────────────────────┘
//	                     │
//	              ┌──────┴───────┐
//	              │ Orchestrator │
//	              └──────────────┘
//
// # Endpoints
//
// Split (GET /split?bucket=&key=&num_chunks=):
//   - Cuts the source object into num_chunks pieces
//   - Chunk keys follow a fixed naming convention keyed by index
//
// Map (GET /map?bucket=&key=&output_key=):
//   - Processes one chunk and writes its output under output_key
//
// Reduce (GET /reduce?bucket=&keys=k0,k1,...):
//   - Aggregates every mapper output, in the order given
//   - Reports the count of distinct keys and the final output locator
//
// Health (GET /health):
//   - Liveness check, answers {"status":"healthy"}
//
// # Failure Classification
//
// Fetch is the only transport primitive. It returns an error for:
//   - Transport failures and timeouts (from net/http)
//   - Any status other than 200 (*StatusError)
//   - A 200 whose body is not valid JSON (ErrMalformedBody)
//
// Fetch does not retry. Retrying is the job of package retry, which wraps
// Fetch with a bounded fixed-delay loop.
//
// # Timeouts
//
// NewHTTPClient builds a client whose Timeout bounds one request. The default
// is DefaultRequestTimeout (30s).
package cluster

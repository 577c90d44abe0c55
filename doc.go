// Package docfuse is an adaptive document ingestion and hybrid retrieval
// library. It extracts content units from PDFs, builds a knowledge graph of
// deduplicated entities and relations, indexes units in lexical and vector
// stores, and answers queries by fusing lexical, vector, and graph evidence
// with reciprocal rank fusion.
//
// Ingestion is governed: a resource governor sizes concurrency and batch
// limits to the host, degrades under load, and pushes backpressure to the
// caller instead of queueing unboundedly. Inference-heavy calls (embeddings,
// OCR) are routed through per-kind batch windows that trade bounded latency
// for throughput.
//
// The library owns no wire protocol. A thin HTTP layer lives under
// pkg/server and a CLI under cmd/docfuse; both delegate to the Client in
// this package.
package docfuse

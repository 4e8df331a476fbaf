// Package embeddings turns text into fixed-length vectors.
//
// Three backends sit behind the Embedder interface: a remote OpenAI-compatible
// API (RemoteEmbedder), a local ONNX model (LocalEmbedder, cgo builds only) and
// a hash-seeded DeterministicEmbedder that never fails. Service selects one
// backend at construction (auto tries remote, then local, then deterministic)
// and falls back to deterministic vectors of the same dimension when the
// selected backend fails at runtime. Quota and authorization failures
// downgrade the Service for the rest of its lifetime; the reduced state is
// reported through Stats rather than as an error.
package embeddings

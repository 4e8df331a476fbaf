// Package services wires the codeqa components into a Registry.
//
// Build constructs one embedding service, one vector store manager, one
// answerer, the ingestion pipeline and the query orchestrator from a
// config.Config. The CLI and the HTTP server share the same Registry.
package services

// Package query answers questions about ingested repositories.
//
// The Orchestrator embeds a question, retrieves chunks across the requested
// repositories, asks an answer.Answerer for a cited answer, retries once
// with a wider candidate set when the answer is not grounded, and attaches
// source snippets for every citation. Query always returns a well-formed
// Response; problems are reported in its Answer text.
package query

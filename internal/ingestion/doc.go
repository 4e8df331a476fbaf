// Package ingestion turns a repository checkout into stored chunk vectors.
//
// Files are enumerated under the request root, filtered by include/exclude
// patterns, a size limit and a binary check, then processed in batches.
// Each batch is chunked, embedded with a single EmbedDocuments call and
// stored with a single Store.AddAtCommit. Batches run on a bounded worker
// pool; one failed batch does not stop the others.
//
// A root .codeqa.toml may extend the request's patterns:
//
//	include = ["**/*.rs"]
//	exclude = ["testdata/**"]
package ingestion

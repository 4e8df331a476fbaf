// Package chunker splits source files into line-window chunks bounded by an
// approximate token budget.
//
// Chunk boundaries always fall on line breaks. A chunk closes when adding the
// next line would push the running token estimate past the budget; trailing
// lines worth up to the overlap budget are carried into the following chunk.
// Output is deterministic for a given TokenCounter, including content hashes.
package chunker

// Package answer turns retrieved chunks into a cited natural-language answer.
//
// Two Answerers are provided. LLMAnswerer asks an OpenAI-compatible chat
// model through langchaingo. MockAnswerer produces canned, deterministic
// answers that cite every retrieved chunk. Fallback composes the two: quota
// and credential failures switch it to the mock for the rest of the process,
// and any other failure is answered by the mock for that call only.
//
// Grounding helpers operate on plain strings:
//
//	citations := answer.ExtractCitations(text, chunks)
//	ok := answer.Validate(text, citations)
//
// A citation reference has the form path:start-end. Paths containing ':'
// are not recognized.
package answer

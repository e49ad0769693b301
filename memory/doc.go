// Package memory provides the long-lived semantic memory of a chat session.
//
// A Store keeps memory records in insertion order next to a vector Index
// whose positions are aligned with the records. Deletion is soft: a record
// is overwritten with a tombstone and only physically removed by Cleanup,
// which rebuilds the index from the surviving texts.
//
// Architecture:
//   - Embedder: text to vector (onnx, ollama, openai, mock)
//   - Index: position-aligned nearest-neighbor search (chromem-go)
//   - BundleCodec: everything except the vectors, written to disk (sqlite)
//   - Store: records + index + similarity strategy
//   - Manager: detectors + store, context building for a text generator
//
// When no embedder is usable the store runs in lexical mode: it still
// fills the index with random vectors so positions stay aligned, but ranks
// records by token-set Jaccard similarity of their texts.
package memory

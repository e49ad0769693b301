// Package onnx embeds text locally with an all-MiniLM style ONNX model.
//
// The tokenizer and pooling code build everywhere; the runtime-backed
// Embedder needs the onnx build tag.
package onnx

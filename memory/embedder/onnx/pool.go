package onnx

import (
	"math"

	"github.com/m-mizutani/goerr/v2"
)

// poolOutput turns a model output into one unit vector per input.
// A [batch, hidden] output is taken as already pooled; a
// [batch, seq, hidden] output is mean-pooled over attended tokens.
func poolOutput(data []float32, shape []int64, masks [][]int64, dims int) ([][]float32, error) {
	batch := len(masks)
	switch len(shape) {
	case 2:
		if shape[0] != int64(batch) || shape[1] < int64(dims) {
			return nil, goerr.New("unexpected pooled output shape", goerr.V("shape", shape))
		}
		hidden := int(shape[1])
		if len(data) < batch*hidden {
			return nil, goerr.New("output shorter than its shape", goerr.V("shape", shape), goerr.V("len", len(data)))
		}
		out := make([][]float32, batch)
		for b := range out {
			v := make([]float32, dims)
			copy(v, data[b*hidden:b*hidden+dims])
			out[b] = normalize(v)
		}
		return out, nil

	case 3:
		seqLen, hidden := int(shape[1]), int(shape[2])
		if shape[0] != int64(batch) || hidden != dims {
			return nil, goerr.New("unexpected hidden state shape", goerr.V("shape", shape), goerr.V("dims", dims))
		}
		if len(data) < batch*seqLen*hidden {
			return nil, goerr.New("output shorter than its shape", goerr.V("shape", shape), goerr.V("len", len(data)))
		}
		out := make([][]float32, batch)
		for b := range out {
			v := make([]float32, dims)
			attended := 0
			for i := 0; i < seqLen && i < len(masks[b]); i++ {
				if masks[b][i] == 0 {
					continue
				}
				attended++
				offset := (b*seqLen + i) * hidden
				for j := 0; j < hidden; j++ {
					v[j] += data[offset+j]
				}
			}
			if attended > 0 {
				for j := range v {
					v[j] /= float32(attended)
				}
			}
			out[b] = normalize(v)
		}
		return out, nil
	}
	return nil, goerr.New("unexpected output rank", goerr.V("shape", shape))
}

// normalize converts embedding to unit vector.
func normalize(vec []float32) []float32 {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	n := float32(math.Sqrt(norm))
	for i := range vec {
		vec[i] /= n
	}
	return vec
}

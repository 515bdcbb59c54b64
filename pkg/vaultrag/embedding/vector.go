package embedding

import (
	"encoding/binary"
	"math"
)

// Reduce pools per-segment vectors into one. An empty input yields an empty
// vector and a single vector is returned unchanged. Otherwise the result is
// the element-wise mean over every vector whose length matches the first;
// vectors of any other length are skipped.
func Reduce(vectors [][]float32) []float32 {
	switch len(vectors) {
	case 0:
		return []float32{}
	case 1:
		return vectors[0]
	}

	n := len(vectors[0])
	sum := make([]float64, n)
	count := 0
	for _, v := range vectors {
		if len(v) != n {
			continue
		}
		for i, x := range v {
			sum[i] += float64(x)
		}
		count++
	}

	out := make([]float32, n)
	for i := range sum {
		out[i] = float32(sum[i] / float64(count))
	}
	return out
}

// Encode serializes v as little-endian float32 values, 4 bytes each.
func Encode(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

// Decode is the inverse of Encode. The vector length is len(b)/4; trailing
// bytes that do not form a whole float are ignored.
func Decode(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}

// CosineSimilarity returns dot(a,b)/(|a||b|). It is 0 when the lengths
// differ, either vector is empty, or either has zero magnitude.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return dot / denom
}

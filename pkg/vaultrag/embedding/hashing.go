package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// defaultHashingDims is the vector size of the hashing provider.
const defaultHashingDims = 256

var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}]+`)

// HashingEmbedder is an offline bag-of-words embedder using the hashing trick.
// It needs no model and no network, which makes it useful for development and
// for machines without a local model. Quality is lexical, not semantic.
type HashingEmbedder struct {
	dims int
}

// NewHashingEmbedder creates a hashing embedder with dims buckets.
func NewHashingEmbedder(dims int) *HashingEmbedder {
	if dims <= 0 {
		dims = defaultHashingDims
	}
	return &HashingEmbedder{dims: dims}
}

// Embed returns one L2-normalized vector for text.
func (e *HashingEmbedder) Embed(ctx context.Context, text string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v := make([]float32, e.dims)
	for _, tok := range tokenPattern.FindAllString(strings.ToLower(text), -1) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum64()
		idx := int(sum % uint64(e.dims))
		if sum&(1<<63) != 0 {
			v[idx]--
		} else {
			v[idx]++
		}
	}

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range v {
			v[i] *= scale
		}
	}
	return [][]float32{v}, nil
}

// Name returns "hashing".
func (e *HashingEmbedder) Name() string { return "hashing" }

// Model returns a descriptor including the bucket count.
func (e *HashingEmbedder) Model() string { return "fnv64a-" + strconv.Itoa(e.dims) }

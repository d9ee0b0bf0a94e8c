package store

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/54b3r/plantai-go/internal/rag"
)

// cosineSimilarity returns a·b / (|a||b|), or 0 when either vector is zero.
// The vectors must have equal length.
func cosineSimilarity(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// encodeVector packs v as little-endian float32s.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeVector unpacks a blob written by encodeVector.
func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("store: corrupt vector blob of %d bytes", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

// less orders hits by score descending, then ID ascending.
func less(a, b rag.Hit) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.ID < b.ID
}

// sortHits orders hits in place by score descending, then ID ascending.
func sortHits(hits []rag.Hit) {
	sort.SliceStable(hits, func(i, j int) bool { return less(hits[i], hits[j]) })
}

// topK keeps the k best hits offered to it.
type topK struct {
	k    int
	hits []rag.Hit
}

func newTopK(k int) *topK {
	return &topK{k: k, hits: make([]rag.Hit, 0, k+1)}
}

func (t *topK) offer(h rag.Hit) {
	if t.k <= 0 {
		return
	}
	if len(t.hits) == t.k && !less(h, t.hits[len(t.hits)-1]) {
		return
	}
	i := sort.Search(len(t.hits), func(i int) bool { return less(h, t.hits[i]) })
	t.hits = append(t.hits, rag.Hit{})
	copy(t.hits[i+1:], t.hits[i:])
	t.hits[i] = h
	if len(t.hits) > t.k {
		t.hits = t.hits[:t.k]
	}
}

func (t *topK) result() []rag.Hit { return t.hits }

package store

import (
	"strconv"
	"strings"
)

// FormatVector renders a vector in the bracketed literal form accepted by
// TO_REAL_VECTOR: [v1,v2,...].
func FormatVector(v []float32) string {
	var b strings.Builder
	b.Grow(len(v)*10 + 2)
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// VectorParam is the TO_REAL_VECTOR(?) scalar used at every vector
// parameter site.
const VectorParam = "TO_REAL_VECTOR(?)"

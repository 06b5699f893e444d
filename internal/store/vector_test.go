package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatVector(t *testing.T) {
	assert.Equal(t, "[]", FormatVector(nil))
	assert.Equal(t, "[1]", FormatVector([]float32{1}))
	assert.Equal(t, "[0.25,-1,0.5]", FormatVector([]float32{0.25, -1, 0.5}))
	assert.Equal(t, "[1e-09]", FormatVector([]float32{1e-9}))
}

func TestFormatVectorRoundTripsFloat32Precision(t *testing.T) {
	// 1/3 has no exact float32 representation; the literal must carry
	// enough digits to scan back to the identical bits
	got := FormatVector([]float32{1.0 / 3.0})
	assert.Equal(t, "[0.33333334]", got)
}

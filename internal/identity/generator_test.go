package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amoylab/pigeon/internal/common/cnst"
)

func TestNewGenerator_Bits(t *testing.T) {
	for _, bits := range []int{16, 32, 64} {
		g, err := NewGenerator(bits)
		require.NoError(t, err)
		assert.Equal(t, bits, g.Bits())
	}

	_, err := NewGenerator(24)
	assert.ErrorIs(t, err, cnst.ErrInvalidIDBits)
}

func TestGenerator_NextWithinWidth(t *testing.T) {
	g, err := NewGenerator(16)
	require.NoError(t, err)
	for i := 0; i < 1000; i++ {
		assert.LessOrEqual(t, uint64(g.Next()), uint64(0xffff))
	}

	g, err = NewGenerator(32)
	require.NoError(t, err)
	for i := 0; i < 1000; i++ {
		assert.LessOrEqual(t, uint64(g.Next()), uint64(0xffffffff))
	}
}

func TestGenerator_NextIsRandom(t *testing.T) {
	g, err := NewGenerator(64)
	require.NoError(t, err)

	seen := make(map[uint64]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		seen[uint64(g.Next())] = struct{}{}
	}
	assert.Greater(t, len(seen), 990)
}

func TestGenerator_Parse(t *testing.T) {
	g, _ := NewGenerator(16)
	id, err := g.Parse("1234")
	require.NoError(t, err)
	assert.Equal(t, "1234", id.String())

	_, err = g.Parse("70000")
	assert.Error(t, err)
}

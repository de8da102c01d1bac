package idx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextIDUnique(t *testing.T) {
	seen := make(map[uint64]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := NextID()
		_, dup := seen[id]
		require.False(t, dup)
		seen[id] = struct{}{}
	}
}

func TestFriendlyRoundTrip(t *testing.T) {
	id := NextID()
	friendly := Friendly("run", id)
	assert.Contains(t, friendly, "run_")

	parsed, ok := ParseFriendly("run", friendly)
	require.True(t, ok)
	assert.Equal(t, id, parsed)

	parsed, ok = ParseFriendly("run", "12345")
	require.True(t, ok)
	assert.Equal(t, uint64(12345), parsed)

	_, ok = ParseFriendly("run", "run_!!")
	assert.False(t, ok)
}

package bundlecache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeKey(t *testing.T) {
	code := "function App() { return null; }"
	deps := map[string]string{"recharts": "2.1.0", "zustand": "4.5.0"}
	setup := "catalog/esm.sh,jsdelivr,unpkg/tailwind"
	base := ComputeKey(code, deps, false, "Chart", setup)

	assert.Len(t, base, 64)
	assert.Regexp(t, `^[0-9a-f]{64}$`, base)

	t.Run("stable across dependency order", func(t *testing.T) {
		for i := 0; i < 20; i++ {
			reordered := map[string]string{"zustand": "4.5.0", "recharts": "2.1.0"}
			assert.Equal(t, base, ComputeKey(code, reordered, false, "Chart", setup))
		}
	})

	variants := []struct {
		name string
		key  string
	}{
		{"title", ComputeKey(code, deps, false, "Chart 2", setup)},
		{"framework mode", ComputeKey(code, deps, true, "Chart", setup)},
		{"code", ComputeKey(code+" ", deps, false, "Chart", setup)},
		{"dependency version", ComputeKey(code, map[string]string{"recharts": "2.1.1", "zustand": "4.5.0"}, false, "Chart", setup)},
		{"dependency set", ComputeKey(code, map[string]string{"recharts": "2.1.0"}, false, "Chart", setup)},
		{"no dependencies", ComputeKey(code, nil, false, "Chart", setup)},
		{"deployment setup", ComputeKey(code, deps, false, "Chart", "catalog/unpkg,esm.sh/tailwind")},
	}
	for _, v := range variants {
		t.Run("sensitive to "+v.name, func(t *testing.T) {
			assert.NotEqual(t, base, v.key)
		})
	}

	t.Run("field boundaries are unambiguous", func(t *testing.T) {
		assert.NotEqual(t,
			ComputeKey("a", map[string]string{"b": "c"}, false, "", setup),
			ComputeKey("", map[string]string{"b": "c"}, false, "a", setup),
		)
	})
}

package bundlecache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// keyVersion is bumped whenever the document layout changes incompatibly
const keyVersion = 1

type keyMaterial struct {
	Version         int         `json:"v"`
	Code            string      `json:"code"`
	Dependencies    [][2]string `json:"dependencies"`
	UseFrameworkEsm bool        `json:"bundleReact"`
	Title           string      `json:"title"`
	Setup           string      `json:"setup"`
}

// ComputeKey returns the content hash identifying the document produced from
// these inputs. setup fingerprints the deployment settings that shape the
// document, so a catalog or provider change starts a fresh keyspace.
// Dependency order does not affect the key.
func ComputeKey(code string, deps map[string]string, useFrameworkEsm bool, title, setup string) string {
	pairs := make([][2]string, 0, len(deps))
	for name, version := range deps {
		pairs = append(pairs, [2]string{name, version})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i][0] < pairs[j][0] })

	// Marshal of strings, bools and slices cannot fail
	raw, _ := json.Marshal(keyMaterial{
		Version:         keyVersion,
		Code:            code,
		Dependencies:    pairs,
		UseFrameworkEsm: useFrameworkEsm,
		Title:           title,
		Setup:           setup,
	})

	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// Package studiohash provides content hashing, stable JSON
// canonicalization and prefixed random identifiers — the primitives
// every other component builds fingerprints and content addresses on top
// of. See pkg/scheduler/scheduler.go in the teacher repo for the id
// generation idiom this generalizes (github.com/google/uuid.New()).
package studiohash

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/opencontainers/go-digest"
)

// SHA256 returns the lowercase hex SHA-256 digest of buf.
func SHA256(buf []byte) string {
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:])
}

// Digest returns buf's content address as an OCI-style digest value
// ("sha256:<hex>"), the type used by pkg/assets.AssetRef.Hash.
func Digest(buf []byte) digest.Digest {
	return digest.FromBytes(buf)
}

// StableJSON serializes v as JSON with object keys sorted lexicographically
// at every level, so two semantically-equal values with differently
// ordered map keys marshal byte-identically. Required by the Fingerprint &
// Result Cache (spec.md §4.8) and the RunSnapshot hash (spec.md §3).
func StableJSON(v interface{}) ([]byte, error) {
	canon, err := canonicalize(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(canon)
}

// canonicalize round-trips v through JSON and rebuilds it with
// sort.Strings-ordered map keys at every level, so the result is stable
// regardless of the host map implementation's iteration order. Go's
// encoding/json already emits map keys in sorted order when marshaling a
// map directly, but values arriving as arbitrary struct/map mixes need a
// normalization pass first so nested maps inherit the same guarantee
// uniformly, independent of how the caller assembled v.
func canonicalize(v interface{}) (interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return stabilize(generic), nil
}

func stabilize(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ordered := make(orderedMap, 0, len(keys))
		for _, k := range keys {
			ordered = append(ordered, orderedEntry{key: k, value: stabilize(t[k])})
		}
		return ordered
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = stabilize(e)
		}
		return out
	default:
		return t
	}
}

// orderedMap marshals as a JSON object preserving insertion order, which
// callers always populate in sorted-key order via stabilize.
type orderedMap []orderedEntry

type orderedEntry struct {
	key   string
	value interface{}
}

func (m orderedMap) MarshalJSON() ([]byte, error) {
	buf := []byte{'{'}
	for i, e := range m {
		if i > 0 {
			buf = append(buf, ',')
		}
		keyJSON, err := json.Marshal(e.key)
		if err != nil {
			return nil, err
		}
		valJSON, err := json.Marshal(e.value)
		if err != nil {
			return nil, err
		}
		buf = append(buf, keyJSON...)
		buf = append(buf, ':')
		buf = append(buf, valJSON...)
	}
	buf = append(buf, '}')
	return buf, nil
}

// NewID returns a prefixed random identifier, e.g. NewID("run") ->
// "run_3fa85f64-5717-4562-b3fc-2c963f66afa6".
func NewID(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, uuid.New().String())
}

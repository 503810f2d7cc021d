package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math"

	"github.com/appraisio/acore/ecode"
)

// floatPrecision bounds float leaves to six decimal places so values that
// differ only by floating-point noise hash identically.
const floatPrecision = 1e6

// buildKey canonicalizes keyData and hashes it into a namespaced key.
// Semantically identical inputs with reordered fields or float jitter
// produce the same key.
func buildKey(namespace string, keyData any) (string, error) {
	normalized, err := normalize(keyData)
	if err != nil {
		return "", ecode.CacheKey(err)
	}

	payload, err := json.Marshal(map[string]any{
		"namespace": namespace,
		"data":      normalized,
	})
	if err != nil {
		return "", ecode.CacheKey(err)
	}

	sum := sha256.Sum256(payload)
	return namespace + ":" + hex.EncodeToString(sum[:])[:16], nil
}

// normalize round-trips keyData through JSON so maps collapse to a
// key-sorted canonical form, then rounds float leaves.
func normalize(data any) (any, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, err
	}

	return roundFloats(decoded), nil
}

func roundFloats(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			t[k] = roundFloats(val)
		}
		return t
	case []any:
		for i := range t {
			t[i] = roundFloats(t[i])
		}
		return t
	case float64:
		return math.Round(t*floatPrecision) / floatPrecision
	default:
		return v
	}
}

package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Fingerprint computes the deterministic cache key for a task dispatch.
//
// The hash covers the task kind, a canonical serialization of the params,
// and the sorted fingerprints of the task's dependencies. Folding dependency
// fingerprints in means a changed upstream parameter changes every
// downstream fingerprint as well, so cache invalidation is the transitive
// dependency closure of the change.
func Fingerprint(kind TaskKind, params Params, depFingerprints []string) string {
	h := sha256.New()
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write(canonicalJSON(params))
	h.Write([]byte{0})

	deps := make([]string, len(depFingerprints))
	copy(deps, depFingerprints)
	sort.Strings(deps)
	for _, d := range deps {
		h.Write([]byte(d))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// canonicalJSON serializes params independently of map insertion order.
// encoding/json sorts map keys, which covers nested maps too; values that
// arrived via JSON decoding are already normalized (float64/string/bool).
func canonicalJSON(params Params) []byte {
	if len(params) == 0 {
		return []byte("{}")
	}
	b, err := json.Marshal(params)
	if err != nil {
		// Params must be JSON-serializable per the Task contract; an
		// unserializable value still needs a stable, non-colliding key.
		return []byte(fmt.Sprintf("!unserializable:%v", err))
	}
	return b
}

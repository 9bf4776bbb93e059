package sim

import (
	"hash/fnv"
	"math/rand"

	"github.com/anthropics/decision-engine/internal/domain"
)

// TrialModel produces one scenario outcome per call. Implementations must
// draw all randomness from the supplied source so batch replay is
// reproducible from the batch seed alone.
type TrialModel interface {
	// Name identifies the model in task params ("model" key).
	Name() string
	// Trial runs one scenario and returns its outcome value.
	Trial(rng *rand.Rand, params domain.Params) (float64, error)
}

// BatchSeed derives the deterministic seed for one batch. Two runs of the
// same session and task always see the same per-batch random streams.
func BatchSeed(sessionID, taskID string, batchIndex int) int64 {
	h := fnv.New64a()
	h.Write([]byte(sessionID))
	h.Write([]byte{0})
	h.Write([]byte(taskID))
	h.Write([]byte{0})
	var idx [8]byte
	v := uint64(batchIndex)
	for i := 0; i < 8; i++ {
		idx[i] = byte(v >> (8 * i))
	}
	h.Write(idx[:])
	return int64(h.Sum64())
}

// floatParam reads a numeric param, falling back to def when absent.
// JSON decoding always yields float64 for numbers, but int is accepted
// for params built in Go code.
func floatParam(p domain.Params, key string, def float64) float64 {
	v, ok := p[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return def
}

package param

import (
	"hash/fnv"
	"math/rand/v2"
)

// Stream returns a generator seeded from (seed, label, seq). Distinct labels
// yield independent streams, and the same triple always replays the same draws.
func Stream(seed uint64, label string, seq uint64) *rand.Rand {
	h := fnv.New64a()
	_, _ = h.Write([]byte(label))
	return rand.New(rand.NewPCG(seed, h.Sum64()^(seq*0x9e3779b97f4a7c15)))
}

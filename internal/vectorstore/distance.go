package vectorstore

import (
	"math"
	"sort"
	"sync"
	"time"
)

// CosineDistance returns 1 - cos(a, b) computed in float64 over every
// component. A zero-length or zero-norm vector is at distance 1 from anything.
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 1
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 1
	}

	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	// Clamp rounding noise so identical vectors land exactly on 0.
	if sim > 1 {
		sim = 1
	} else if sim < -1 {
		sim = -1
	}
	return 1 - sim
}

// rank orders matches by ascending distance, then ascending Seq, and keeps
// the first topK. It sorts in place.
func rank(matches []Match, topK int) []Match {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		return matches[i].Seq < matches[j].Seq
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches
}

// sequencer hands out strictly increasing insertion sequence numbers that
// also increase across process restarts, since they start from wall time.
type sequencer struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

func newSequencer() *sequencer {
	return &sequencer{now: time.Now}
}

func (s *sequencer) next() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.now().UnixNano()
	if n <= s.last {
		n = s.last + 1
	}
	s.last = n
	return n
}

// Package admission decides which geometry payloads are worth writing to the
// shared cache. Demand for a key decays exponentially, so a key is admitted
// once it has been asked for often enough within a few half-lives.
package admission

import (
	"math"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

const (
	numShards = 64
	// shards above this size drop keys whose demand has decayed away
	defaultPruneAt = 4096
	minScore       = 0.05
)

type Policy struct {
	threshold float64
	halfLife  time.Duration
	pruneAt   int
	now       func() time.Time
	shards    [numShards]shard
}

type shard struct {
	mu sync.Mutex
	m  map[string]*demand
}

type demand struct {
	score float64
	last  time.Time
}

// New admits a key once its decayed request count reaches threshold. A
// threshold of 1 or less admits on the first request.
func New(threshold float64, halfLife time.Duration) *Policy {
	if halfLife <= 0 {
		halfLife = 5 * time.Minute
	}
	p := &Policy{threshold: threshold, halfLife: halfLife, pruneAt: defaultPruneAt, now: time.Now}
	for i := range p.shards {
		p.shards[i].m = make(map[string]*demand)
	}
	return p
}

// Admit records one request for key and reports whether it should be cached.
func (p *Policy) Admit(key string) bool {
	if key == "" {
		return false
	}
	s := p.pick(key)
	n := p.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	d := s.m[key]
	if d == nil {
		if len(s.m) >= p.pruneAt {
			p.prune(s, n)
		}
		d = &demand{last: n}
		s.m[key] = d
	}
	d.score = decay(d.score, n.Sub(d.last).Seconds(), p.halfLife.Seconds()) + 1
	d.last = n
	return d.score >= p.threshold
}

// Demand is the current decayed request count for key.
func (p *Policy) Demand(key string) float64 {
	s := p.pick(key)
	n := p.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.m[key]
	if d == nil {
		return 0
	}
	return decay(d.score, n.Sub(d.last).Seconds(), p.halfLife.Seconds())
}

func (p *Policy) Forget(keys ...string) {
	for _, k := range keys {
		s := p.pick(k)
		s.mu.Lock()
		delete(s.m, k)
		s.mu.Unlock()
	}
}

func (p *Policy) Len() int {
	total := 0
	for i := range p.shards {
		p.shards[i].mu.Lock()
		total += len(p.shards[i].m)
		p.shards[i].mu.Unlock()
	}
	return total
}

// s.mu must be held.
func (p *Policy) prune(s *shard, n time.Time) {
	hl := p.halfLife.Seconds()
	for k, d := range s.m {
		if decay(d.score, n.Sub(d.last).Seconds(), hl) < minScore {
			delete(s.m, k)
		}
	}
}

func decay(score, dt, halfLife float64) float64 {
	if score == 0 || dt <= 0 || halfLife <= 0 {
		return score
	}
	return score * math.Exp(-math.Ln2/halfLife*dt)
}

func (p *Policy) pick(key string) *shard {
	return &p.shards[xxhash.Sum64String(key)&(numShards-1)]
}

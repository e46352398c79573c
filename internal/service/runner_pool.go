package service

import (
	"context"
	"slices"
	"sync"

	"github.com/haatos/simple-dispatch/internal/types"
)

// SelectRunner returns the runner the policy picks among those whose tags
// are a superset of the job's tags. lastUsed holds the use sequence number
// per runner name; a runner missing from it has never been used.
//
// least_recently_used picks the smallest sequence number and falls back to
// registration order on ties. first_registered always picks the earliest
// registered eligible runner.
func SelectRunner(
	job types.JobDefinition,
	pool []types.Runner,
	policy types.RunnerPolicy,
	lastUsed map[string]uint64,
) (types.Runner, bool) {
	best := -1
	for i, r := range pool {
		if !job.HasTags(r.Tags) {
			continue
		}
		if best == -1 {
			best = i
			continue
		}
		if policy == types.LeastRecentlyUsed && lastUsed[r.Name] < lastUsed[pool[best].Name] {
			best = i
		}
	}
	if best == -1 {
		return types.Runner{}, false
	}
	return pool[best], true
}

type poolEntry struct {
	runner   types.Runner
	busy     bool
	retired  bool
	lastUsed uint64
}

// RunnerPool hands out runners to jobs. A runner serves one job at a time;
// Acquire blocks while every eligible runner is busy.
type RunnerPool struct {
	policy types.RunnerPolicy

	mu       sync.Mutex
	entries  []*poolEntry
	seq      uint64
	released chan struct{}
}

func NewRunnerPool(policy types.RunnerPolicy, runners ...types.Runner) *RunnerPool {
	p := &RunnerPool{
		policy:   policy,
		released: make(chan struct{}),
	}
	p.Sync(runners)
	return p
}

// Sync replaces the pool's runners with the registry's current view. Runners
// that stay keep their busy state and usage history.
func (p *RunnerPool) Sync(runners []types.Runner) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entries := make([]*poolEntry, 0, len(runners))
	for _, r := range runners {
		i := slices.IndexFunc(p.entries, func(e *poolEntry) bool {
			return e.runner.Name == r.Name
		})
		if i >= 0 {
			e := p.entries[i]
			e.runner = r
			e.retired = false
			entries = append(entries, e)
			continue
		}
		entries = append(entries, &poolEntry{runner: r})
	}
	// busy runners that left the registry stay until released
	for _, e := range p.entries {
		if e.busy && !slices.Contains(entries, e) {
			e.retired = true
			entries = append(entries, e)
		}
	}
	p.entries = entries
	p.notify()
}

func (p *RunnerPool) Runners() []types.Runner {
	p.mu.Lock()
	defer p.mu.Unlock()
	runners := make([]types.Runner, 0, len(p.entries))
	for _, e := range p.entries {
		if !e.retired {
			runners = append(runners, e.runner)
		}
	}
	return runners
}

// Acquire reserves a runner for job. It returns ErrNoRunnerMatch right away
// when no runner in the pool could ever serve the job, and ctx.Err() when the
// context ends while waiting for a busy runner. The returned release function
// must be called once the job is done.
func (p *RunnerPool) Acquire(
	ctx context.Context,
	job types.JobDefinition,
) (types.Runner, func(), error) {
	for {
		p.mu.Lock()
		eligible := false
		var free []types.Runner
		lastUsed := make(map[string]uint64)
		for _, e := range p.entries {
			if e.retired || !job.HasTags(e.runner.Tags) {
				continue
			}
			eligible = true
			if !e.busy {
				free = append(free, e.runner)
				lastUsed[e.runner.Name] = e.lastUsed
			}
		}
		if !eligible {
			p.mu.Unlock()
			return types.Runner{}, nil, ErrNoRunnerMatch
		}
		if r, ok := SelectRunner(job, free, p.policy, lastUsed); ok {
			e := p.entry(r.Name)
			e.busy = true
			p.seq++
			e.lastUsed = p.seq
			p.mu.Unlock()
			return r, p.releaseFunc(e), nil
		}
		wait := p.released
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return types.Runner{}, nil, ctx.Err()
		case <-wait:
		}
	}
}

func (p *RunnerPool) entry(name string) *poolEntry {
	for _, e := range p.entries {
		if !e.retired && e.runner.Name == name {
			return e
		}
	}
	return nil
}

func (p *RunnerPool) releaseFunc(e *poolEntry) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			e.busy = false
			if e.retired {
				p.entries = slices.DeleteFunc(p.entries, func(o *poolEntry) bool {
					return o == e
				})
			}
			p.notify()
		})
	}
}

// notify wakes every waiting Acquire. Callers hold p.mu.
func (p *RunnerPool) notify() {
	close(p.released)
	p.released = make(chan struct{})
}

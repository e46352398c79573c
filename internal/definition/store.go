package definition

import (
	"fmt"
	"sync"

	"github.com/haatos/simple-dispatch/internal/types"
)

// Store holds parsed job definitions for one pipeline and lists them in the
// order they were added.
type Store struct {
	mu    sync.RWMutex
	jobs  []types.JobDefinition
	index map[string]int
}

func NewStore(jobs ...types.JobDefinition) (*Store, error) {
	s := &Store{index: make(map[string]int)}
	for _, j := range jobs {
		if err := s.Add(j); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func NewStoreFromDefinition(pd *types.PipelineDefinition) (*Store, error) {
	return NewStore(pd.Jobs...)
}

func (s *Store) Add(job types.JobDefinition) error {
	if job.Name == "" {
		return fmt.Errorf("job name must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index[job.Name]; ok {
		return fmt.Errorf("job %q already defined", job.Name)
	}
	s.index[job.Name] = len(s.jobs)
	s.jobs = append(s.jobs, job)
	return nil
}

func (s *Store) Get(name string) (types.JobDefinition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[name]
	if !ok {
		return types.JobDefinition{}, false
	}
	return s.jobs[i], true
}

func (s *Store) List() []types.JobDefinition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	jobs := make([]types.JobDefinition, len(s.jobs))
	copy(jobs, s.jobs)
	return jobs
}

func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, len(s.jobs))
	for i, j := range s.jobs {
		names[i] = j.Name
	}
	return names
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

package runlog

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// memoryCap bounds the in-memory history so a long-lived process does
// not grow without limit.
const memoryCap = 200

// MemoryRepository implements Repository in memory, used when no
// database is configured.
type MemoryRepository struct {
	mu   sync.Mutex
	runs []Run
}

// NewMemoryRepository creates an empty in-memory run history.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

// Record stores a run record.
func (r *MemoryRepository) Record(_ context.Context, run *Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, *run)
	if len(r.runs) > memoryCap {
		r.runs = r.runs[len(r.runs)-memoryCap:]
	}
	return nil
}

// GetByID retrieves a single run by its UUID.
func (r *MemoryRepository) GetByID(_ context.Context, id uuid.UUID) (*Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.runs {
		if r.runs[i].ID == id {
			run := r.runs[i]
			return &run, nil
		}
	}
	return nil, ErrRunNotFound
}

// List retrieves the most recent runs, newest first.
func (r *MemoryRepository) List(_ context.Context, limit int) ([]Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	runs := []Run{}
	for i := len(r.runs) - 1; i >= 0 && len(runs) < limit; i-- {
		runs = append(runs, r.runs[i])
	}
	return runs, nil
}

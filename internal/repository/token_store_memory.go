package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/spec-kit/condo-access/internal/domain"
)

// MemoryTokenStore keeps tokens in process. Each record has its own mutex so
// consumes on unrelated tokens never contend.
type MemoryTokenStore struct {
	mu         sync.RWMutex
	partitions map[string]*memoryTokenPartition
}

type memoryTokenPartition struct {
	tenantID string
	mu       sync.RWMutex
	records  map[string]*memoryTokenEntry
}

type memoryTokenEntry struct {
	mu    sync.Mutex
	token *domain.AccessToken
}

// NewMemoryTokenStore creates an empty store.
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{partitions: make(map[string]*memoryTokenPartition)}
}

// Tenant returns the partition for tenantID, creating it on first use.
func (s *MemoryTokenStore) Tenant(tenantID string) TenantTokenStore {
	s.mu.RLock()
	p, ok := s.partitions[tenantID]
	s.mu.RUnlock()
	if ok {
		return p
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.partitions[tenantID]; ok {
		return p
	}
	p = &memoryTokenPartition{tenantID: tenantID, records: make(map[string]*memoryTokenEntry)}
	s.partitions[tenantID] = p
	return p
}

func (p *memoryTokenPartition) TenantID() string {
	return p.tenantID
}

func (p *memoryTokenPartition) Create(_ context.Context, token *domain.AccessToken) error {
	const op = "repository.memory.Create"
	if token.TenantID != p.tenantID {
		return fmt.Errorf("%s: %w", op, ErrTenantMismatch)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.records[token.ID]; exists {
		return fmt.Errorf("%s: %w", op, ErrTokenExists)
	}
	p.records[token.ID] = &memoryTokenEntry{token: token.Clone()}
	return nil
}

func (p *memoryTokenPartition) entry(id string) (*memoryTokenEntry, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.records[id]
	return e, ok
}

func (p *memoryTokenPartition) Get(_ context.Context, id string) (*domain.AccessToken, error) {
	e, ok := p.entry(id)
	if !ok {
		return nil, fmt.Errorf("repository.memory.Get: %w", ErrTokenNotFound)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.token.Clone(), nil
}

func (p *memoryTokenPartition) Upsert(_ context.Context, token *domain.AccessToken) error {
	const op = "repository.memory.Upsert"
	if token.TenantID != p.tenantID {
		return fmt.Errorf("%s: %w", op, ErrTenantMismatch)
	}

	if e, ok := p.entry(token.ID); ok {
		e.mu.Lock()
		e.token = token.Clone()
		e.mu.Unlock()
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.records[token.ID]; ok {
		e.mu.Lock()
		e.token = token.Clone()
		e.mu.Unlock()
		return nil
	}
	p.records[token.ID] = &memoryTokenEntry{token: token.Clone()}
	return nil
}

func (p *memoryTokenPartition) Consume(_ context.Context, id string, now time.Time) (*domain.AccessToken, error) {
	const op = "repository.memory.Consume"
	e, ok := p.entry(id)
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, ErrTokenNotFound)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := checkConsumable(e.token, now); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	e.token.RecordUse()
	return e.token.Clone(), nil
}

func (p *memoryTokenPartition) List(_ context.Context, limit, offset int) ([]domain.AccessToken, error) {
	limit, offset = normalizePage(limit, offset)

	p.mu.RLock()
	entries := make([]*memoryTokenEntry, 0, len(p.records))
	for _, e := range p.records {
		entries = append(entries, e)
	}
	p.mu.RUnlock()

	tokens := make([]domain.AccessToken, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		tokens = append(tokens, *e.token)
		e.mu.Unlock()
	}
	sort.Slice(tokens, func(i, j int) bool {
		if tokens[i].CreatedAt.Equal(tokens[j].CreatedAt) {
			return tokens[i].ID < tokens[j].ID
		}
		return tokens[i].CreatedAt.After(tokens[j].CreatedAt)
	})

	if offset >= len(tokens) {
		return []domain.AccessToken{}, nil
	}
	end := offset + limit
	if end > len(tokens) {
		end = len(tokens)
	}
	return tokens[offset:end], nil
}

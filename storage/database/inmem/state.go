package inmemdb

import (
	"context"
	"sync"

	"github.com/trezcool/masomo-portal/core/persist"
)

// DB keeps persisted state for the lifetime of the process only.
type DB struct {
	mutex sync.RWMutex
	table map[string]map[string][]byte // root key -> partition -> payload
}

func NewDB() *DB {
	return &DB{table: make(map[string]map[string][]byte)}
}

type stateRepository struct {
	db *DB
}

var _ persist.Repository = (*stateRepository)(nil)

func NewStateRepository(db *DB) persist.Repository {
	return &stateRepository{db: db}
}

func (repo *stateRepository) LoadAll(_ context.Context, root string) (map[string][]byte, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()
	payloads := make(map[string][]byte, len(repo.db.table[root]))
	for part, payload := range repo.db.table[root] {
		payloads[part] = append([]byte(nil), payload...)
	}
	return payloads, nil
}

func (repo *stateRepository) Save(_ context.Context, root, partition string, payload []byte) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()
	parts, ok := repo.db.table[root]
	if !ok {
		parts = make(map[string][]byte)
		repo.db.table[root] = parts
	}
	parts[partition] = append([]byte(nil), payload...)
	return nil
}

func (repo *stateRepository) Purge(_ context.Context, root string) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()
	delete(repo.db.table, root)
	return nil
}

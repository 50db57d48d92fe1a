// Package persist keeps whitelisted state partitions in a durable key-value store so they
// survive a reload, and gates readers until the stored state has been restored.
package persist

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-portal/core"
)

// Persisted partitions.
const (
	PartitionSession  = "session"
	PartitionAlert    = "alert"
	PartitionCounters = "counters"
	PartitionChat     = "chat"
)

// DefaultWhitelist lists the partitions persisted under the root key.
var DefaultWhitelist = []string{PartitionSession, PartitionAlert, PartitionCounters, PartitionChat}

var ErrNotWhitelisted = errors.New("partition is not whitelisted")

type (
	// Repository is a durable store holding one JSON payload per (root key, partition).
	Repository interface {
		LoadAll(ctx context.Context, root string) (map[string][]byte, error)
		Save(ctx context.Context, root, partition string, payload []byte) error
		Purge(ctx context.Context, root string) error
	}

	// Saver receives partition snapshots after every mutation.
	Saver interface {
		Persist(partition string, v interface{})
	}

	// Hydrator replaces its whole state with a restored payload; a nil payload means zero state.
	Hydrator interface {
		Hydrate(payload []byte) error
	}

	Persistor struct {
		repo      Repository
		root      string
		whitelist map[string]bool
		logger    core.Logger

		mu        sync.Mutex
		hydrators map[string]Hydrator
		ready     chan struct{}
		readyOnce sync.Once
	}
)

func NewPersistor(repo Repository, root string, logger core.Logger, whitelist ...string) *Persistor {
	if len(whitelist) == 0 {
		whitelist = DefaultWhitelist
	}
	if logger == nil {
		logger = core.NopLogger{}
	}
	wl := make(map[string]bool, len(whitelist))
	for _, part := range whitelist {
		wl[part] = true
	}
	return &Persistor{
		repo:      repo,
		root:      root,
		whitelist: wl,
		logger:    logger,
		hydrators: make(map[string]Hydrator),
		ready:     make(chan struct{}),
	}
}

// Register binds a Hydrator to a whitelisted partition. Must be called before Restore.
func (p *Persistor) Register(partition string, h Hydrator) error {
	if !p.whitelist[partition] {
		return errors.Wrap(ErrNotWhitelisted, partition)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hydrators[partition] = h
	return nil
}

// Restore loads every registered partition and hydrates it, then opens the ready gate.
// The gate opens even if loading fails: readers then start from zero state.
func (p *Persistor) Restore(ctx context.Context) error {
	defer p.readyOnce.Do(func() { close(p.ready) })

	payloads, err := p.repo.LoadAll(ctx, p.root)
	if err != nil {
		p.Reset()
		return errors.Wrap(err, "loading persisted state")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for part, h := range p.hydrators {
		if err := h.Hydrate(payloads[part]); err != nil {
			p.logger.Warn("discarding unreadable persisted partition", errors.Wrap(err, part))
			_ = h.Hydrate(nil)
		}
	}
	return nil
}

// Ready is closed once Restore has completed.
func (p *Persistor) Ready() <-chan struct{} {
	return p.ready
}

// Wait blocks until Restore has completed or ctx is done.
func (p *Persistor) Wait(ctx context.Context) error {
	select {
	case <-p.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Persist implements Saver. Write failures are logged: callers mutate state regardless.
func (p *Persistor) Persist(partition string, v interface{}) {
	if !p.whitelist[partition] {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		p.logger.Error("encoding persisted partition", errors.Wrap(err, partition))
		return
	}
	if err = p.repo.Save(context.Background(), p.root, partition, payload); err != nil {
		p.logger.Error("saving persisted partition", errors.Wrap(err, partition))
	}
}

// Purge deletes every partition stored under the root key.
func (p *Persistor) Purge(ctx context.Context) error {
	return errors.Wrap(p.repo.Purge(ctx, p.root), "purging persisted state")
}

// Reset hydrates every registered partition with its zero state, without writing anything.
func (p *Persistor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, h := range p.hydrators {
		_ = h.Hydrate(nil)
	}
}

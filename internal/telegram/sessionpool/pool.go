// Package sessionpool multiplexes many concurrent stream requests over a
// small number of per-datacenter upstream sessions, avoiding a ~10-15s
// re-authentication cost on every request. The pool-map mutex is held
// only long enough to find-or-create an entry; the entry's own mutex is
// held from StreamFrom until the iterator it returned is closed.
package sessionpool

import (
	"context"
	"sync"

	"github.com/DCspare/StreamVault/internal/model"
	"github.com/DCspare/StreamVault/internal/telegram"
)

type entry struct {
	mu sync.Mutex
}

// Pool partitions upstream access by datacenter id, as derived from each
// FileLocator.
type Pool struct {
	client telegram.Client

	mu      sync.Mutex
	entries map[int64]*entry
}

func New(client telegram.Client) *Pool {
	return &Pool{
		client:  client,
		entries: make(map[int64]*entry),
	}
}

func (p *Pool) entryFor(datacenterID int64) *entry {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[datacenterID]
	if !ok {
		e = &entry{}
		p.entries[datacenterID] = e
	}
	return e
}

// StreamFrom resolves locator's datacenter, acquires (waiting if
// necessary) the pool entry for it, and opens a BlobIterator through the
// underlying client. The entry's lock is held until the returned
// iterator is closed, so callers must close it promptly once done.
func (p *Pool) StreamFrom(ctx context.Context, locator model.FileLocator, startChunk int64) (telegram.BlobIterator, error) {
	e := p.entryFor(locator.DatacenterID)
	e.mu.Lock()

	iter, err := p.client.StreamFile(ctx, locator, startChunk)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}

	return &pooledIterator{BlobIterator: iter, unlock: e.mu.Unlock}, nil
}

// pooledIterator releases its session-pool entry lock exactly once, on
// Close, regardless of how many times Close is called.
type pooledIterator struct {
	telegram.BlobIterator
	unlock   func()
	released bool
}

func (it *pooledIterator) Close() error {
	err := it.BlobIterator.Close()
	if !it.released {
		it.released = true
		it.unlock()
	}
	return err
}

// EntryCount reports how many datacenter entries currently exist. Useful
// for asserting session reuse in tests.
func (p *Pool) EntryCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

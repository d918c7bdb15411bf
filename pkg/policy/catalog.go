package policy

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Catalog publishes the active policy snapshot. Readers call Snapshot and
// keep the result for the lifetime of one validation run; Reload builds a
// replacement off to the side and publishes it atomically only when the
// whole new catalog is valid.
type Catalog struct {
	mu   sync.Mutex // serializes reloads
	snap atomic.Pointer[Snapshot]
	dir  string // empty = embedded canonical corpus
	opts Options
	log  *slog.Logger
}

// Open loads the catalog from dir, or from the embedded canonical corpus
// when dir is empty, and returns a catalog publishing that snapshot.
func Open(dir string, opts Options) (*Catalog, error) {
	c := &Catalog{dir: dir, opts: opts, log: opts.logger()}
	snap, err := c.load()
	if err != nil {
		return nil, err
	}
	c.snap.Store(snap)
	return c, nil
}

func (c *Catalog) load() (*Snapshot, error) {
	if c.dir == "" {
		return LoadEmbedded(c.opts)
	}
	return LoadDir(c.dir, c.opts)
}

// Snapshot returns the currently published snapshot.
func (c *Catalog) Snapshot() *Snapshot { return c.snap.Load() }

// Reload re-reads the catalog source. On any error the previous snapshot
// stays published and the error is returned. Concurrent reloads serialize;
// in-flight validation runs keep the snapshot they started with.
func (c *Catalog) Reload() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next, err := c.load()
	if err != nil {
		c.log.Error("catalog reload rejected, previous snapshot stays active", "error", err)
		return err
	}
	prev := c.snap.Swap(next)
	if prev != nil && prev.Version() == next.Version() {
		c.log.Debug("catalog reload produced identical snapshot", "version", next.Version())
		return nil
	}
	c.log.Info("catalog reloaded", "policies", next.Len(), "version", next.Version())
	return nil
}

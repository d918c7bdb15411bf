// Package history is the append-only, content-addressed store of committed
// contract revisions. Blobs are addressed by their SHA-256 digest; commits
// group named blob refs, chain to their parent, and are themselves
// content-addressed. The log is the authoritative record; refs are derived
// pointers that heal from it.
package history

import (
	"context"
	"time"
)

// FormatLine identifies the on-disk layout. The first line of the format
// file must match exactly; anything else is another tool's directory.
const FormatLine = "datapact-history/1"

// Commit is one immutable history entry. ID is the SHA-256 of the record's
// canonical JSON (without the ID itself), so equal content yields equal ids.
type Commit struct {
	ID        string            `json:"id"`
	Parents   []string          `json:"parents,omitempty"`
	Author    string            `json:"author"`
	Message   string            `json:"message"`
	Timestamp time.Time         `json:"timestamp"`
	Refs      map[string]string `json:"refs"`
}

// Short returns the abbreviated commit id used in diff headers and logs.
func (c *Commit) Short() string {
	if len(c.ID) <= 12 {
		return c.ID
	}
	return c.ID[:12]
}

// CommitInput describes one commit to write. ExpectedHead, when non-nil,
// makes the commit conditional: it must equal the current head (pointer to
// the empty string for an empty repository) or the commit is rejected with
// history_conflict and nothing is written.
type CommitInput struct {
	Refs         map[string]string
	Message      string
	Author       string
	ExpectedHead *string
}

// Store is the history abstraction the contract service writes through.
// Implementations serialize writers per dataset; readers are unrestricted.
type Store interface {
	// Put stores a blob and returns its content id. Storing the same
	// bytes twice returns the same id and writes nothing new.
	Put(ctx context.Context, blob []byte) (string, error)

	// Get returns the blob for a content id.
	Get(ctx context.Context, id string) ([]byte, error)

	// Discard removes a staged blob that no commit references. Referenced
	// blobs are left untouched.
	Discard(ctx context.Context, id string) error

	// Commit appends a commit grouping the named refs. Every referenced
	// blob must already be stored.
	Commit(ctx context.Context, in CommitInput) (*Commit, error)

	// Head returns the current head commit id, empty for a fresh store.
	Head(ctx context.Context) (string, error)

	// RefRead resolves a ref name to the newest commit carrying it and
	// returns that blob alongside the commit.
	RefRead(ctx context.Context, name string) ([]byte, *Commit, error)

	// Log lists commits newest first. limit <= 0 returns everything.
	// since, when non-empty, names a known commit (full id or a prefix of
	// at least 12 characters) and bounds the listing to commits made after
	// it, exclusive.
	Log(ctx context.Context, limit int, since string) ([]Commit, error)

	// Diff renders a unified diff of the named blob as of commit a versus
	// commit b. name may be an exact ref or a dataset name, which resolves
	// to the dataset's latest human-readable ref at each commit.
	Diff(ctx context.Context, a, b, name string) (string, error)

	// Tag points a tag at a commit. Re-tagging to a different commit is a
	// history_conflict; re-tagging to the same commit is a no-op.
	Tag(ctx context.Context, commitID, tag string) error
}

// RefName returns the blob ref name for a dataset version's human-readable
// form; the machine-readable form lives at RefName(...)+StructSuffix.
func RefName(dataset, version string) string {
	return dataset + "_v" + version
}

// StructSuffix marks machine-readable contract refs.
const StructSuffix = ".struct"

package history

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/datapact-labs/datapact/pkg/contracts"
)

// FS is the filesystem history store. Layout under the root:
//
//	format             one line, FormatLine
//	objects/<sha256>   content-addressed blobs
//	refs/heads/main    current head commit id
//	refs/tags/<tag>    commit id per tag
//	log                append-only JSONL, one commit record per line
//
// The log is written before the head pointer; a crash between the two heals
// on the next Open by replaying the last log line.
type FS struct {
	root  string
	log   *slog.Logger
	clock func() time.Time

	// headMu guards the log append + head update critical section.
	// datasets serializes commit writers per dataset name.
	headMu   sync.RWMutex
	dsMu     sync.Mutex
	datasets map[string]*sync.Mutex
}

// Open initializes (or re-opens) a history store rooted at dir.
func Open(dir string, logger *slog.Logger) (*FS, error) {
	if logger == nil {
		logger = slog.Default().With("component", "history")
	}
	s := &FS{
		root:     dir,
		log:      logger,
		clock:    time.Now,
		datasets: make(map[string]*sync.Mutex),
	}
	for _, sub := range []string{"objects", filepath.Join("refs", "heads"), filepath.Join("refs", "tags")} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, ioErr("initializing history layout", err)
		}
	}
	formatPath := filepath.Join(dir, "format")
	existing, err := os.ReadFile(formatPath)
	switch {
	case os.IsNotExist(err):
		if err := os.WriteFile(formatPath, []byte(FormatLine+"\n"), 0o644); err != nil {
			return nil, ioErr("writing format file", err)
		}
	case err != nil:
		return nil, ioErr("reading format file", err)
	default:
		if strings.TrimSpace(string(existing)) != FormatLine {
			return nil, ioErr(fmt.Sprintf("directory carries unknown format %q", strings.TrimSpace(string(existing))), nil)
		}
	}
	if err := s.healHead(); err != nil {
		return nil, err
	}
	return s, nil
}

// WithClock overrides the commit timestamp source. Test hook.
func (s *FS) WithClock(clock func() time.Time) *FS {
	s.clock = clock
	return s
}

var _ Store = (*FS)(nil)

// healHead makes the head pointer agree with the last log line. The log is
// authoritative; a torn write can only leave the head stale, never ahead.
func (s *FS) healHead() error {
	commits, err := s.readLog()
	if err != nil {
		return err
	}
	if len(commits) == 0 {
		return nil
	}
	want := commits[len(commits)-1].ID
	current, err := s.readHead()
	if err != nil {
		return err
	}
	if current == want {
		return nil
	}
	s.log.Warn("head pointer out of date, healing from log", "head", current, "log", want)
	return s.writeHead(want)
}

func (s *FS) Put(_ context.Context, blob []byte) (string, error) {
	sum := sha256.Sum256(blob)
	id := hex.EncodeToString(sum[:])
	path := filepath.Join(s.root, "objects", id)
	if _, err := os.Stat(path); err == nil {
		return id, nil // content-addressed: same bytes, same object
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o644); err != nil {
		return "", ioErr("staging object", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", ioErr("committing object", err)
	}
	return id, nil
}

func (s *FS) Get(_ context.Context, id string) ([]byte, error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(filepath.Join(s.root, "objects", id))
	if os.IsNotExist(err) {
		return nil, contracts.Errorf(contracts.KindNotFound, "object %s not found", id)
	}
	if err != nil {
		return nil, ioErr("reading object", err)
	}
	return b, nil
}

func (s *FS) Discard(_ context.Context, id string) error {
	if err := validID(id); err != nil {
		return err
	}
	s.headMu.RLock()
	commits, err := s.readLog()
	s.headMu.RUnlock()
	if err != nil {
		return err
	}
	for i := range commits {
		for _, ref := range commits[i].Refs {
			if ref == id {
				return nil // referenced; keep it
			}
		}
	}
	if err := os.Remove(filepath.Join(s.root, "objects", id)); err != nil && !os.IsNotExist(err) {
		return ioErr("discarding object", err)
	}
	return nil
}

func (s *FS) Commit(ctx context.Context, in CommitInput) (*Commit, error) {
	if len(in.Refs) == 0 {
		return nil, ioErr("commit carries no refs", nil)
	}
	for name, id := range in.Refs {
		if name == "" {
			return nil, ioErr("commit carries an unnamed ref", nil)
		}
		if _, err := s.Get(ctx, id); err != nil {
			return nil, contracts.NewError(contracts.KindHistoryIO, "", "",
				fmt.Sprintf("ref %s points at a missing object", name), err)
		}
	}

	// Writers for the same dataset serialize; distinct datasets only
	// contend on the short head-update section below.
	unlock := s.lockDatasets(in.Refs)
	defer unlock()

	s.headMu.Lock()
	defer s.headMu.Unlock()

	head, err := s.readHead()
	if err != nil {
		return nil, err
	}
	if in.ExpectedHead != nil && *in.ExpectedHead != head {
		return nil, contracts.Errorf(contracts.KindHistoryConflict,
			"head moved: expected %s, found %s", orNone(*in.ExpectedHead), orNone(head))
	}

	c := Commit{
		Author:    in.Author,
		Message:   in.Message,
		Timestamp: s.clock().UTC(),
		Refs:      in.Refs,
	}
	if head != "" {
		c.Parents = []string{head}
	}
	id, err := commitID(&c)
	if err != nil {
		return nil, err
	}
	c.ID = id

	if err := s.appendLog(&c); err != nil {
		return nil, err
	}
	if err := s.writeHead(c.ID); err != nil {
		// The log line landed; the head heals on next open. Still surface
		// the failure so the caller knows the store needs attention.
		return nil, err
	}
	s.log.Info("commit written", "commit", c.Short(), "refs", len(c.Refs), "message", c.Message)
	return &c, nil
}

func (s *FS) Head(_ context.Context) (string, error) {
	s.headMu.RLock()
	defer s.headMu.RUnlock()
	return s.readHead()
}

func (s *FS) RefRead(ctx context.Context, name string) ([]byte, *Commit, error) {
	s.headMu.RLock()
	commits, err := s.readLog()
	s.headMu.RUnlock()
	if err != nil {
		return nil, nil, err
	}
	for i := len(commits) - 1; i >= 0; i-- {
		if id, ok := commits[i].Refs[name]; ok {
			blob, err := s.Get(ctx, id)
			if err != nil {
				return nil, nil, err
			}
			c := commits[i]
			return blob, &c, nil
		}
	}
	return nil, nil, contracts.Errorf(contracts.KindNotFound, "ref %s not found", name)
}

func (s *FS) Log(_ context.Context, limit int, since string) ([]Commit, error) {
	s.headMu.RLock()
	commits, err := s.readLog()
	s.headMu.RUnlock()
	if err != nil {
		return nil, err
	}
	if since != "" {
		cut := -1
		for i := range commits {
			if commits[i].ID == since || strings.HasPrefix(commits[i].ID, since) && len(since) >= 12 {
				cut = i
				break
			}
		}
		if cut < 0 {
			return nil, contracts.Errorf(contracts.KindNotFound, "commit %s not found", since)
		}
		commits = commits[cut+1:]
	}
	// newest first
	out := make([]Commit, 0, len(commits))
	for i := len(commits) - 1; i >= 0; i-- {
		out = append(out, commits[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *FS) Tag(_ context.Context, commitID, tag string) error {
	if tag == "" || strings.ContainsAny(tag, "/\\") {
		return ioErr(fmt.Sprintf("invalid tag name %q", tag), nil)
	}
	s.headMu.Lock()
	defer s.headMu.Unlock()

	commits, err := s.readLog()
	if err != nil {
		return err
	}
	known := false
	for i := range commits {
		if commits[i].ID == commitID {
			known = true
			break
		}
	}
	if !known {
		return contracts.Errorf(contracts.KindNotFound, "commit %s not found", commitID)
	}

	path := filepath.Join(s.root, "refs", "tags", tag)
	if existing, err := os.ReadFile(path); err == nil {
		if strings.TrimSpace(string(existing)) == commitID {
			return nil
		}
		return contracts.Errorf(contracts.KindHistoryConflict,
			"tag %s already points at %s", tag, strings.TrimSpace(string(existing)))
	} else if !os.IsNotExist(err) {
		return ioErr("reading tag", err)
	}
	return atomicWrite(path, []byte(commitID+"\n"))
}

func (s *FS) lockDatasets(refs map[string]string) func() {
	names := make([]string, 0, len(refs))
	seen := make(map[string]bool, len(refs))
	for name := range refs {
		ds := DatasetOf(name)
		if !seen[ds] {
			seen[ds] = true
			names = append(names, ds)
		}
	}
	sort.Strings(names) // fixed acquisition order avoids deadlock

	locks := make([]*sync.Mutex, 0, len(names))
	s.dsMu.Lock()
	for _, name := range names {
		mu, ok := s.datasets[name]
		if !ok {
			mu = &sync.Mutex{}
			s.datasets[name] = mu
		}
		locks = append(locks, mu)
	}
	s.dsMu.Unlock()

	for _, mu := range locks {
		mu.Lock()
	}
	return func() {
		for i := len(locks) - 1; i >= 0; i-- {
			locks[i].Unlock()
		}
	}
}

// DatasetOf extracts the dataset name from a contract ref name. Ref names
// follow <dataset>_v<version>[.struct]; anything else is its own key.
func DatasetOf(ref string) string {
	ref = strings.TrimSuffix(ref, StructSuffix)
	if i := strings.LastIndex(ref, "_v"); i > 0 {
		return ref[:i]
	}
	return ref
}

func (s *FS) readHead() (string, error) {
	b, err := os.ReadFile(filepath.Join(s.root, "refs", "heads", "main"))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", ioErr("reading head", err)
	}
	return strings.TrimSpace(string(b)), nil
}

func (s *FS) writeHead(id string) error {
	return atomicWrite(filepath.Join(s.root, "refs", "heads", "main"), []byte(id+"\n"))
}

func (s *FS) appendLog(c *Commit) error {
	line, err := json.Marshal(c)
	if err != nil {
		return ioErr("encoding commit record", err)
	}
	f, err := os.OpenFile(filepath.Join(s.root, "log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return ioErr("opening log", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return ioErr("appending commit record", err)
	}
	return nil
}

func (s *FS) readLog() ([]Commit, error) {
	f, err := os.Open(filepath.Join(s.root, "log"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, ioErr("opening log", err)
	}
	defer f.Close()

	var out []Commit
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var c Commit
		if err := json.Unmarshal([]byte(line), &c); err != nil {
			return nil, ioErr(fmt.Sprintf("corrupt log line %d", lineNo), err)
		}
		out = append(out, c)
	}
	if err := sc.Err(); err != nil {
		return nil, ioErr("scanning log", err)
	}
	return out, nil
}

// commitID hashes the canonical JSON of the record without its ID field.
func commitID(c *Commit) (string, error) {
	clone := *c
	clone.ID = ""
	raw, err := json.Marshal(&clone)
	if err != nil {
		return "", ioErr("encoding commit for hashing", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", ioErr("canonicalizing commit", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return ioErr("staging "+filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return ioErr("updating "+filepath.Base(path), err)
	}
	return nil
}

func validID(id string) error {
	if len(id) != 64 {
		return contracts.Errorf(contracts.KindHistoryIO, "malformed object id %q", id)
	}
	if _, err := hex.DecodeString(id); err != nil {
		return contracts.Errorf(contracts.KindHistoryIO, "malformed object id %q", id)
	}
	return nil
}

func ioErr(msg string, cause error) error {
	return contracts.NewError(contracts.KindHistoryIO, "", "", msg, cause)
}

func orNone(id string) string {
	if id == "" {
		return "(empty)"
	}
	return id
}

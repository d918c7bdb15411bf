package history

import (
	"context"
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/datapact-labs/datapact/pkg/contracts"
)

// Diff renders a unified diff of the named blob as of commit a versus
// commit b. name resolves first as an exact ref; failing that, as a dataset
// name, which picks the dataset's latest human-readable ref at each commit.
func (s *FS) Diff(ctx context.Context, a, b, name string) (string, error) {
	s.headMu.RLock()
	commits, err := s.readLog()
	s.headMu.RUnlock()
	if err != nil {
		return "", err
	}

	left, leftCommit, err := s.resolveAt(ctx, commits, a, name)
	if err != nil {
		return "", err
	}
	right, rightCommit, err := s.resolveAt(ctx, commits, b, name)
	if err != nil {
		return "", err
	}

	out, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(left)),
		B:        difflib.SplitLines(string(right)),
		FromFile: fmt.Sprintf("%s@%s", name, leftCommit.Short()),
		ToFile:   fmt.Sprintf("%s@%s", name, rightCommit.Short()),
		Context:  3,
	})
	if err != nil {
		return "", ioErr("rendering diff", err)
	}
	return out, nil
}

// resolveAt finds the blob for name as of the given commit: the newest
// commit at or before it (in log order) carrying an exact ref match, or a
// human-readable ref belonging to the dataset called name.
func (s *FS) resolveAt(ctx context.Context, commits []Commit, at, name string) ([]byte, *Commit, error) {
	cut := -1
	for i := range commits {
		if commits[i].ID == at || strings.HasPrefix(commits[i].ID, at) && len(at) >= 12 {
			cut = i
			break
		}
	}
	if cut < 0 {
		return nil, nil, contracts.Errorf(contracts.KindNotFound, "commit %s not found", at)
	}
	for i := cut; i >= 0; i-- {
		if id, ok := commits[i].Refs[name]; ok {
			blob, err := s.Get(ctx, id)
			if err != nil {
				return nil, nil, err
			}
			c := commits[i]
			return blob, &c, nil
		}
	}
	// Dataset-name resolution: latest human-readable ref of the dataset.
	for i := cut; i >= 0; i-- {
		for ref, id := range commits[i].Refs {
			if strings.HasSuffix(ref, StructSuffix) || DatasetOf(ref) != name {
				continue
			}
			blob, err := s.Get(ctx, id)
			if err != nil {
				return nil, nil, err
			}
			c := commits[i]
			return blob, &c, nil
		}
	}
	return nil, nil, contracts.Errorf(contracts.KindNotFound, "ref %s not found at commit %s", name, at)
}

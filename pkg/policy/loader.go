package policy

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/decls"
	"github.com/google/cel-go/common/types"
	"github.com/gowebpki/jcs"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/datapact-labs/datapact/pkg/contracts"
)

// Options configures catalog loading.
type Options struct {
	// KnownPredicate reports whether a built-in predicate name exists.
	// Rule policies referencing unknown predicates fail the load. A nil
	// func rejects every predicate reference.
	KnownPredicate func(name string) bool
	Logger         *slog.Logger
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default().With("component", "policy")
}

type bundleDoc struct {
	Category contracts.Category `yaml:"category"`
	Policies []Policy           `yaml:"policies"`
}

// LoadDir loads every *.yaml / *.yml bundle in dir and builds a snapshot.
func LoadDir(dir string, opts Options) (*Snapshot, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, catalogErr("reading catalog dir", err)
	}
	files := make(map[string][]byte)
	for _, e := range entries {
		if e.IsDir() || !isBundleName(e.Name()) {
			continue
		}
		b, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, catalogErr("reading bundle "+e.Name(), err)
		}
		files[e.Name()] = b
	}
	return buildSnapshot(files, opts)
}

// LoadFS loads every bundle from an fs.FS root. Used for the embedded
// canonical corpus.
func LoadFS(fsys fs.FS, root string, opts Options) (*Snapshot, error) {
	entries, err := fs.ReadDir(fsys, root)
	if err != nil {
		return nil, catalogErr("reading embedded catalog", err)
	}
	files := make(map[string][]byte)
	for _, e := range entries {
		if e.IsDir() || !isBundleName(e.Name()) {
			continue
		}
		b, err := fs.ReadFile(fsys, root+"/"+e.Name())
		if err != nil {
			return nil, catalogErr("reading embedded bundle "+e.Name(), err)
		}
		files[e.Name()] = b
	}
	return buildSnapshot(files, opts)
}

func isBundleName(name string) bool {
	return strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")
}

func buildSnapshot(files map[string][]byte, opts Options) (*Snapshot, error) {
	if len(files) == 0 {
		return nil, catalogErr("no policy bundles found", nil)
	}
	env, err := newCELEnv()
	if err != nil {
		return nil, catalogErr("building expression environment", err)
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var policies []Policy
	ids := make(map[string]string, 32) // id -> first file seen in
	for _, name := range names {
		doc := bundleDoc{}
		dec := yaml.NewDecoder(bytes.NewReader(files[name]))
		dec.KnownFields(true)
		if err := dec.Decode(&doc); err != nil {
			return nil, catalogErr(fmt.Sprintf("parsing bundle %s", name), err)
		}
		if !doc.Category.Valid() {
			return nil, catalogErr(fmt.Sprintf("bundle %s: unknown category %q", name, doc.Category), nil)
		}
		if len(doc.Policies) == 0 {
			return nil, catalogErr(fmt.Sprintf("bundle %s declares no policies", name), nil)
		}
		for i := range doc.Policies {
			p := doc.Policies[i]
			p.Category = doc.Category
			if prev, dup := ids[p.ID]; dup {
				return nil, catalogErr(fmt.Sprintf("bundle %s: policy %s already defined in %s", name, p.ID, prev), nil)
			}
			if err := validatePolicy(&p, env, opts); err != nil {
				return nil, catalogErr(fmt.Sprintf("bundle %s: policy %s", name, p.ID), err)
			}
			ids[p.ID] = name
			policies = append(policies, p)
		}
	}

	snap := newSnapshot(policies)
	opts.logger().Info("policy catalog loaded",
		"policies", snap.Len(),
		"rules", len(snap.rules),
		"semantic", len(snap.semantic),
		"version", snap.Version())
	return snap, nil
}

func validatePolicy(p *Policy, env *cel.Env, opts Options) error {
	if !policyIDRe.MatchString(p.ID) {
		return fmt.Errorf("id %q must be uppercase alphanumeric", p.ID)
	}
	if p.Description == "" {
		return fmt.Errorf("description is required")
	}
	if !p.Severity.Valid() {
		return fmt.Errorf("severity %q is not critical/warning/info", p.Severity)
	}
	if p.Remediation == "" && p.Severity != contracts.SeverityInfo {
		return fmt.Errorf("remediation is required for %s policies", p.Severity)
	}

	if p.IsSemantic() {
		if p.Predicate != "" || p.Expression != "" {
			return fmt.Errorf("semantic policies cannot carry predicates or expressions")
		}
		if strings.TrimSpace(p.Prompt) == "" {
			return fmt.Errorf("semantic policies require a prompt")
		}
		if p.JudgmentSchema != "" {
			sch, err := jsonschema.CompileString(p.ID+"/judgment.json", p.JudgmentSchema)
			if err != nil {
				return fmt.Errorf("judgment schema: %w", err)
			}
			p.schema = sch
		}
		return nil
	}

	if p.Prompt != "" || p.JudgmentSchema != "" || p.ReportUnknown {
		return fmt.Errorf("rule policies cannot carry semantic fields")
	}
	hasPredicate := p.Predicate != ""
	hasExpression := strings.TrimSpace(p.Expression) != ""
	if hasPredicate == hasExpression {
		return fmt.Errorf("exactly one of predicate or expression is required")
	}
	if hasPredicate {
		if opts.KnownPredicate == nil || !opts.KnownPredicate(p.Predicate) {
			return fmt.Errorf("unknown predicate %q", p.Predicate)
		}
		return nil
	}

	ast, issues := env.Compile(p.Expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("expression compilation failed: %w", issues.Err())
	}
	if !ast.OutputType().IsExactType(types.BoolType) {
		return fmt.Errorf("expression must evaluate to bool, got %s", ast.OutputType())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return fmt.Errorf("program construction failed: %w", err)
	}
	p.program = prg
	return nil
}

// newCELEnv declares the variables expression policies may reference:
// the contract document as a map, the predecessor document (null when the
// dataset is new), and a has_predecessor convenience flag.
func newCELEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.VariableDecls(
			decls.NewVariable("contract", types.NewMapType(types.StringType, types.DynType)),
			decls.NewVariable("predecessor", types.DynType),
			decls.NewVariable("has_predecessor", types.BoolType),
		),
	)
}

func snapshotVersion(policies []Policy) string {
	raw, err := json.Marshal(policies)
	if err != nil {
		// Policy contains only marshalable fields; treat failure as a bug.
		panic(fmt.Sprintf("policy: marshal snapshot: %v", err))
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		panic(fmt.Sprintf("policy: canonicalize snapshot: %v", err))
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

func catalogErr(msg string, cause error) error {
	return contracts.NewError(contracts.KindPolicyCatalog, "", "", msg, cause)
}

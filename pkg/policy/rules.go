package policy

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/soundprediction/go-vetgraph/pkg/driver"
	"github.com/soundprediction/go-vetgraph/pkg/graph"
	"github.com/soundprediction/go-vetgraph/pkg/index"
	"github.com/soundprediction/go-vetgraph/pkg/types"
)

// ScopeGlobal evaluates rules against the property store.
const ScopeGlobal = "global"

// RuleSet is one rule file.
type RuleSet struct {
	Name    string   `yaml:"name" json:"name"`
	Source  string   `yaml:"source" json:"source"`
	Disable bool     `yaml:"disable" json:"disable"`
	Rules   []string `yaml:"rules" json:"rules"`
	Path    string   `yaml:"-" json:"path,omitempty"`
}

// LoadRuleSets reads a rule file, or every *.yaml and *.yml file under a
// directory. Source defaults to ScopeGlobal. Files without rules are skipped.
func LoadRuleSets(path string) ([]RuleSet, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("rule path: %w", err)
	}
	var files []string
	if !info.IsDir() {
		files = []string{path}
	} else {
		err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			ext := strings.ToLower(filepath.Ext(p))
			if !d.IsDir() && (ext == ".yaml" || ext == ".yml") {
				files = append(files, p)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scan rule directory %s: %w", path, err)
		}
	}

	var sets []RuleSet
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, err
		}
		var rs RuleSet
		if err := yaml.Unmarshal(data, &rs); err != nil {
			return nil, fmt.Errorf("parse rule file %s: %w", f, err)
		}
		if len(rs.Rules) == 0 {
			continue
		}
		if rs.Source == "" {
			rs.Source = ScopeGlobal
		}
		if rs.Name == "" {
			rs.Name = strings.TrimSuffix(filepath.Base(f), filepath.Ext(f))
		}
		rs.Path = f
		sets = append(sets, rs)
	}
	return sets, nil
}

// SnapshotLoader returns the graph snapshot of a document, given by id or
// name.
type SnapshotLoader func(ctx context.Context, doc string) (*graph.Graph, error)

// IndexSnapshotLoader loads snapshots from the search index.
func IndexSnapshotLoader(store index.Store, idx, kbID string) SnapshotLoader {
	return func(ctx context.Context, doc string) (*graph.Graph, error) {
		filter := index.Filter{KBID: kbID, DocID: doc, Kinds: []types.Kind{types.KindGraph}}
		recs, err := store.Search(ctx, idx, index.Query{Filter: filter, Limit: 1})
		if err != nil {
			return nil, err
		}
		if len(recs) == 0 {
			filter.DocID = ""
			err = store.Scroll(ctx, idx, index.Query{Filter: filter}, func(rec types.Record) error {
				if rec.String(types.FieldDocName) == doc {
					recs = append(recs, rec)
					return errFound
				}
				return nil
			})
			if err != nil && !errors.Is(err, errFound) {
				return nil, err
			}
		}
		if len(recs) == 0 {
			return nil, fmt.Errorf("graph of %s: %w", doc, index.ErrDocumentNotFound)
		}
		return graph.ParseNodeLink([]byte(recs[0].String(types.FieldContent)))
	}
}

var errFound = errors.New("found")

// SetResult is the outcome of one rule set.
type SetResult struct {
	Name    string          `json:"name"`
	Source  string          `json:"source"`
	Path    string          `json:"path,omitempty"`
	Results map[string]bool `json:"results"`
	Passed  int             `json:"passed"`
	Failed  int             `json:"failed"`
}

// PassRate is the share of passing rules, 0 for an empty set.
func (r SetResult) PassRate() float64 {
	if r.Passed+r.Failed == 0 {
		return 0
	}
	return float64(r.Passed) / float64(r.Passed+r.Failed)
}

// Runner evaluates rules in a scope.
type Runner struct {
	store  driver.PropertyStore
	load   SnapshotLoader
	logger *slog.Logger
}

// NewRunner creates a Runner. store serves the global scope and load
// serves document scopes; either may be nil when unused.
func NewRunner(store driver.PropertyStore, load SnapshotLoader, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{store: store, load: load, logger: logger.With("component", "policy")}
}

// Evaluate returns rule text → pass. Scope "" or ScopeGlobal uses the
// property store; any other scope names a document whose snapshot is
// loaded. Rules that fail to parse or run are reported false and their
// errors joined.
func (r *Runner) Evaluate(ctx context.Context, rules []string, scope string) (map[string]bool, error) {
	results := make(map[string]bool, len(rules))
	var g *graph.Graph
	global := scope == "" || scope == ScopeGlobal
	switch {
	case global && r.store == nil:
		return nil, errors.New("no property store configured for global rules")
	case !global:
		if r.load == nil {
			return nil, errors.New("no snapshot loader configured for document rules")
		}
		var err error
		if g, err = r.load(ctx, scope); err != nil {
			return nil, fmt.Errorf("load graph of %s: %w", scope, err)
		}
	}

	var errs []error
	for _, text := range rules {
		rule, err := Parse(text)
		if err != nil {
			results[text] = false
			errs = append(errs, err)
			continue
		}
		var pass bool
		if global {
			pass, err = EvalStore(ctx, r.store, rule)
			if err != nil {
				errs = append(errs, err)
			}
		} else {
			pass = EvalGraph(rule, g)
		}
		results[text] = pass
		r.logger.Info("rule evaluated", "rule", text, "scope", scope, "pass", pass)
	}
	return results, errors.Join(errs...)
}

// Run evaluates every enabled rule set and logs its pass rate.
func (r *Runner) Run(ctx context.Context, sets []RuleSet) ([]SetResult, error) {
	var (
		out  []SetResult
		errs []error
	)
	for _, set := range sets {
		if set.Disable {
			continue
		}
		res, err := r.Evaluate(ctx, set.Rules, set.Source)
		if err != nil {
			r.logger.Error("rule set failed", "rule_set", set.Name, "path", set.Path, "error", err)
			errs = append(errs, fmt.Errorf("rule set %s: %w", set.Name, err))
			if res == nil {
				continue
			}
		}
		sr := SetResult{Name: set.Name, Source: set.Source, Path: set.Path, Results: res}
		for _, pass := range res {
			if pass {
				sr.Passed++
			} else {
				sr.Failed++
			}
		}
		r.logger.Info("rule set evaluated", "rule_set", set.Name, "source", set.Source,
			"passed", sr.Passed, "failed", sr.Failed, "pass_rate", fmt.Sprintf("%.2f%%", 100*sr.PassRate()))
		out = append(out, sr)
	}
	return out, errors.Join(errs...)
}

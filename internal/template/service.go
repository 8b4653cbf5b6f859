// Package template loads a directory of template bundles, indexes them by
// source shape, matches a contract's fetched source hashes against that
// index, and merges a matched template's StructureContract with a
// per-address override. `extends` chains are flattened in dependency
// order, with cycles rejected at load time.
package template

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/contractgraph/discovery/internal/models"
)

// Service owns the process-lifetime template index. It is immutable after
// Load and freely shared across goroutines.
type Service struct {
	templates map[string]*models.Template
	hashIndex map[models.SourceHash]map[string]struct{}
	order     []string // template ids in load order, for deterministic iteration
}

type rawCriteria struct {
	Addresses []string `json:"addresses,omitempty"`
	Chains    []string `json:"chains,omitempty"`
}

// Load walks root, treating every subdirectory that contains a
// template.jsonc as one template bundle. The template id is the bundle's
// path relative to root with OS separators normalized to "/".
func Load(root string) (*Service, error) {
	svc := &Service{
		templates: map[string]*models.Template{},
		hashIndex: map[models.SourceHash]map[string]struct{}{},
	}

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if d.Name() != "template.jsonc" && d.Name() != "template.json" {
			return nil
		}
		dir := filepath.Dir(path)
		id, relErr := filepath.Rel(root, dir)
		if relErr != nil {
			return relErr
		}
		id = filepath.ToSlash(id)

		tmpl, loadErr := loadBundle(dir, id)
		if loadErr != nil {
			return loadErr
		}
		if _, exists := svc.templates[id]; exists {
			return fmt.Errorf("template: duplicate template id %q", id)
		}
		svc.templates[id] = tmpl
		svc.order = append(svc.order, id)
		return nil
	})
	if err != nil {
		return nil, models.WrapError(models.ConfigError, "template", err)
	}

	if err := svc.resolveExtends(); err != nil {
		return nil, err
	}
	svc.buildHashIndex()
	return svc, nil
}

func loadBundle(dir, id string) (*models.Template, error) {
	configPath := filepath.Join(dir, "template.jsonc")
	if _, err := os.Stat(configPath); err != nil {
		configPath = filepath.Join(dir, "template.json")
	}
	raw, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("template %q: reading config: %w", id, err)
	}
	var cfg models.StructureContract
	if err := json.Unmarshal(stripJSONC(raw), &cfg); err != nil {
		return nil, fmt.Errorf("template %q: parsing config: %w", id, err)
	}

	tmpl := &models.Template{
		ID:     id,
		Config: &cfg,
		Shapes: map[models.SourceHash]struct{}{},
	}

	if shapesRaw, err := os.ReadFile(filepath.Join(dir, "shapes.json")); err == nil {
		var shapes []string
		if err := json.Unmarshal(shapesRaw, &shapes); err != nil {
			return nil, fmt.Errorf("template %q: parsing shapes.json: %w", id, err)
		}
		for _, h := range shapes {
			tmpl.Shapes[models.SourceHash(strings.ToLower(h))] = struct{}{}
		}
	}

	if criteriaRaw, err := os.ReadFile(filepath.Join(dir, "criteria.json")); err == nil {
		var rc rawCriteria
		if err := json.Unmarshal(criteriaRaw, &rc); err != nil {
			return nil, fmt.Errorf("template %q: parsing criteria.json: %w", id, err)
		}
		for _, a := range rc.Addresses {
			addr, err := models.ParseAddress(a)
			if err != nil {
				return nil, fmt.Errorf("template %q: criteria.json: %w", id, err)
			}
			tmpl.Criteria.Addresses = append(tmpl.Criteria.Addresses, addr)
		}
		tmpl.Criteria.Chains = rc.Chains
	}

	return tmpl, nil
}

// resolveExtends flattens every template's `extends` chain into its Config
// in dependency order, detecting cycles with a Kahn's-algorithm
// topological sort: any template left unprocessed sits on a cycle.
func (s *Service) resolveExtends() error {
	adjList := make(map[string][]string) // base -> [templates that extend it]
	inDegree := make(map[string]int)

	for id := range s.templates {
		inDegree[id] = 0
	}
	for id, tmpl := range s.templates {
		if tmpl.Config.Extends == "" {
			continue
		}
		base := tmpl.Config.Extends
		if _, ok := s.templates[base]; !ok {
			return models.NewError(models.ConfigError, "template", fmt.Sprintf("template %q extends unknown template %q", id, base))
		}
		adjList[base] = append(adjList[base], id)
		inDegree[id]++
	}

	var queue []string
	for id, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue) // deterministic processing order among independent roots

	var processed int
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		processed++

		for _, dependent := range adjList[current] {
			base := s.templates[current]
			child := s.templates[dependent]
			child.Config = Merge(base.Config, child.Config)

			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
				sort.Strings(queue)
			}
		}
	}

	if processed != len(s.templates) {
		return models.NewError(models.ConfigError, "template", "extends cycle detected among template bundles")
	}
	return nil
}

func (s *Service) buildHashIndex() {
	for id, tmpl := range s.templates {
		for h := range tmpl.Shapes {
			if s.hashIndex[h] == nil {
				s.hashIndex[h] = map[string]struct{}{}
			}
			s.hashIndex[h][id] = struct{}{}
		}
	}
}

// candidate is one template under scoring consideration.
type candidate struct {
	tmpl  *models.Template
	score int
}

// FindMatching picks the best-scoring template for a contract's source
// hashes. hints is the set of template ids the BFS frontier already
// associated with this address (from a proxy implementation or another
// relative's configuration, for example).
func (s *Service) FindMatching(sourceHashes []models.SourceHash, address models.Address, chain string, hints models.TemplateHints) (*models.Template, bool) {
	candidateIDs := map[string]struct{}{}
	for _, h := range sourceHashes {
		key := models.SourceHash(strings.ToLower(string(h)))
		for id := range s.hashIndex[key] {
			candidateIDs[id] = struct{}{}
		}
	}
	for id := range hints {
		if _, ok := s.templates[id]; ok {
			candidateIDs[id] = struct{}{}
		}
	}
	if len(candidateIDs) == 0 {
		return nil, false
	}

	var candidates []candidate
	for id := range candidateIDs {
		tmpl := s.templates[id]
		if len(tmpl.Criteria.Addresses) > 0 && !tmpl.Criteria.MatchesAddress(address) {
			continue
		}
		if len(tmpl.Criteria.Chains) > 0 && !tmpl.Criteria.MatchesChain(chain) {
			continue
		}

		score := 0
		for _, h := range sourceHashes {
			if _, ok := tmpl.Shapes[models.SourceHash(strings.ToLower(string(h)))]; ok {
				score += 2
			}
		}
		if len(tmpl.Criteria.Addresses) > 0 && tmpl.Criteria.MatchesAddress(address) {
			score += 10
		}
		if len(tmpl.Criteria.Chains) > 0 && tmpl.Criteria.MatchesChain(chain) {
			score += 5
		}
		if hints.Has(id) {
			score++
		}
		candidates = append(candidates, candidate{tmpl: tmpl, score: score})
	}
	if len(candidates) == 0 {
		return nil, false
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].tmpl.ID < candidates[j].tmpl.ID // deterministic tie-break
	})
	return candidates[0].tmpl, true
}

// Get returns a template by id, for tests and diagnostics.
func (s *Service) Get(id string) (*models.Template, bool) {
	t, ok := s.templates[id]
	return t, ok
}

// Merge combines a template config with an override: fields/methods/types
// merge as maps with b winning per key; list-valued fields dedupe by
// concatenation; scalar fields take b's value when b explicitly set it (per
// StructureContract's has* presence flags), else fall back to a.
func Merge(a, b *models.StructureContract) *models.StructureContract {
	if a == nil {
		return b.Clone()
	}
	if b == nil {
		return a.Clone()
	}

	out := a.Clone()

	if b.Extends != "" {
		out.Extends = b.Extends
	}
	if b.HasCanAct() {
		out.CanActIndependently = b.CanActIndependently
	}
	if b.HasIgnoreDiscovery() {
		out.IgnoreDiscovery = b.IgnoreDiscovery
	}
	if b.HasProxyType() {
		out.ProxyType = b.ProxyType
	}

	out.IgnoreInWatchMode = dedupConcat(out.IgnoreInWatchMode, b.IgnoreInWatchMode)
	out.IgnoreMethods = dedupConcat(out.IgnoreMethods, b.IgnoreMethods)
	out.IgnoreRelatives = dedupConcat(out.IgnoreRelatives, b.IgnoreRelatives)
	out.ManualSourcePaths = dedupConcat(out.ManualSourcePaths, b.ManualSourcePaths)

	for k, v := range b.Fields {
		fc := *v
		out.Fields[k] = &fc
	}
	for k, v := range b.Methods {
		out.Methods[k] = v
	}
	for k, v := range b.Types {
		out.Types[k] = v
	}
	for k, v := range b.Extras {
		out.Extras[k] = v
	}
	return out
}

func dedupConcat(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string(nil), a...), b...) {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

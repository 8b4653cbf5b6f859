// Package discovery implements the level-synchronous BFS that drives
// address analysis over the reachable address graph starting from a set of
// seeds: analyze one level fully, then advance. All shared engine state is
// touched only between levels, so the per-level fan-out needs no locking
// of its own.
package discovery

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/contractgraph/discovery/internal/chain"
	"github.com/contractgraph/discovery/internal/models"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Analyzer is the capability Engine drives once per discovered address.
type Analyzer interface {
	Analyze(ctx context.Context, provider chain.Provider, address models.Address, hints models.TemplateHints, depth int) (models.Analysis, error)
}

var tracer = otel.Tracer("github.com/contractgraph/discovery/internal/discovery")

// Engine runs the BFS traversal.
type Engine struct {
	analyzer    Analyzer
	progress    *models.ProgressTracker
	log         zerolog.Logger
	concurrency int
	capExceeded bool
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithProgress attaches a ProgressTracker; discovery runs without one by
// default (bare structured logging only).
func WithProgress(p *models.ProgressTracker) Option {
	return func(e *Engine) { e.progress = p }
}

// WithConcurrency overrides the default level fan-out width.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

func New(analyzer Analyzer, log zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		analyzer:    analyzer,
		log:         log.With().Str("component", "discovery").Logger(),
		concurrency: models.DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// frontierEntry is one (address, accumulated template hints) pair awaiting
// analysis at the current BFS level.
type frontierEntry struct {
	address models.Address
	hints   models.TemplateHints
}

// Discover runs the traversal end to end and returns every resolved
// Analysis, ordered by address ascending.
func (e *Engine) Discover(ctx context.Context, provider chain.Provider, config *models.StructureConfig) ([]models.Analysis, error) {
	ctx, span := tracer.Start(ctx, "discovery.Discover")
	defer span.End()

	maxAddresses := config.EffectiveMaxAddresses()
	maxDepth := config.EffectiveMaxDepth()
	e.capExceeded = false

	resolved := make(map[models.Address]models.Analysis)
	depth := make(map[models.Address]int)
	frontier := make(map[models.Address]models.TemplateHints, len(config.InitialAddresses))
	for _, addr := range config.InitialAddresses {
		frontier[addr] = models.NewTemplateHints()
		depth[addr] = 0
	}

	for level := 0; len(frontier) > 0; level++ {
		if e.progress != nil {
			e.progress.Update("bfs", models.GroupBFS, "BFS level", models.StatusRunning,
				"analyzing level with "+strconv.Itoa(len(frontier))+" addresses")
		}

		entries := make([]frontierEntry, 0, len(frontier))
		for addr, hints := range frontier {
			entries = append(entries, frontierEntry{address: addr, hints: hints})
		}
		frontier = make(map[models.Address]models.TemplateHints)

		// Map iteration order is randomized; sort so which relatives survive
		// the maxAddresses truncation below is a function of (config, block,
		// chain state) alone, not of map iteration.
		sort.Slice(entries, func(i, j int) bool {
			return entries[i].address.Hex() < entries[j].address.Hex()
		})

		analyses, err := e.analyzeLevel(ctx, provider, entries, depth)
		if err != nil {
			return nil, err
		}

		var nextRelatives []models.Address
		relativeHints := make(map[models.Address]models.TemplateHints)
		for _, entry := range entries {
			analysis := analyses[entry.address]
			resolved[entry.address] = analysis
			if !analysis.IsContract() {
				continue
			}
			d := depth[entry.address] + 1
			if d > maxDepth {
				continue
			}
			templateHint := models.NewTemplateHints()
			if analysis.TemplateID != "" {
				templateHint = models.NewTemplateHints(analysis.TemplateID)
			}
			for _, r := range analysis.Relatives.Sorted() {
				if _, already := resolved[r]; already {
					continue
				}
				if existing, ok := relativeHints[r]; ok {
					relativeHints[r] = existing.Merge(templateHint)
				} else {
					relativeHints[r] = templateHint
					nextRelatives = append(nextRelatives, r)
					if _, hasDepth := depth[r]; !hasDepth {
						depth[r] = d
					}
				}
			}
		}

		for _, r := range nextRelatives {
			if len(resolved)+len(frontier) >= maxAddresses {
				e.log.Warn().Str("address", r.Hex()).Msg("maxAddresses reached, dropping relative")
				e.capExceeded = true
				continue
			}
			frontier[r] = relativeHints[r]
		}
	}

	if e.progress != nil {
		e.progress.Update("bfs", models.GroupBFS, "BFS", models.StatusFinished, "discovery complete")
	}

	out := make([]models.Analysis, 0, len(resolved))
	for _, a := range resolved {
		out = append(out, a)
	}
	sortByAddress(out)
	return out, nil
}

// analyzeLevel concurrently analyzes every frontier entry, bounded by
// e.concurrency, and awaits all before returning.
func (e *Engine) analyzeLevel(ctx context.Context, provider chain.Provider, entries []frontierEntry, depth map[models.Address]int) (map[models.Address]models.Analysis, error) {
	results := make(map[models.Address]models.Analysis, len(entries))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for _, entry := range entries {
		entry := entry
		g.Go(func() error {
			spanCtx, span := tracer.Start(gctx, "discovery.analyze",
				trace.WithAttributes(attribute.String("address", entry.address.Hex())))
			defer span.End()

			analysis, err := e.analyzer.Analyze(spanCtx, provider, entry.address, entry.hints, depth[entry.address])
			if err != nil {
				// An analyzer error here is an infrastructure fault:
				// RPC-level and handler-level errors are already captured
				// per-field inside Analysis, not returned here.
				return err
			}
			mu.Lock()
			results[entry.address] = analysis
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// CapExceeded reports whether the most recent Discover call dropped at
// least one relative because maxAddresses was reached. The CLI reads it to
// decide strict-mode exit status.
func (e *Engine) CapExceeded() bool { return e.capExceeded }

func sortByAddress(analyses []models.Analysis) {
	sort.Slice(analyses, func(i, j int) bool {
		return analyses[i].Address.Hex() < analyses[j].Address.Hex()
	})
}

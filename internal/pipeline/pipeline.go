package pipeline

import (
	"context"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/takeoff-cli/internal/batch"
	"github.com/sells-group/takeoff-cli/internal/config"
	"github.com/sells-group/takeoff-cli/internal/cost"
	"github.com/sells-group/takeoff-cli/internal/inference"
	"github.com/sells-group/takeoff-cli/internal/metrics"
	"github.com/sells-group/takeoff-cli/internal/model"
	"github.com/sells-group/takeoff-cli/internal/render"
	"github.com/sells-group/takeoff-cli/internal/resilience"
	"github.com/sells-group/takeoff-cli/internal/store"
)

// Document is an opened drawing set.
type Document interface {
	PageSource
	Ref() model.DocumentRef
	Close() error
}

// Opener loads a document for a run.
type Opener func(ctx context.Context, path string, opts render.Options) (Document, error)

// OpenRendered opens path with the pdfcpu/pdftoppm renderer.
func OpenRendered(ctx context.Context, path string, opts render.Options) (Document, error) {
	doc, err := render.Open(ctx, path, opts)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Pipeline runs the takeoff stages over one document at a time. It is safe
// to call Run concurrently for different documents.
type Pipeline struct {
	cfg     *config.Config
	store   store.Store
	infer   inference.Infer
	metrics *metrics.Metrics
	render  render.Options
	open    Opener
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMetrics records stage and run metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithRenderOptions overrides the render settings taken from config.
func WithRenderOptions(o render.Options) Option {
	return func(p *Pipeline) { p.render = o }
}

// WithOpener replaces the document loader.
func WithOpener(o Opener) Option {
	return func(p *Pipeline) { p.open = o }
}

// New creates a Pipeline. infer is shared by every stage.
func New(cfg *config.Config, st store.Store, infer inference.Infer, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:   cfg,
		store: st,
		infer: infer,
		render: render.Options{
			TempDir:    cfg.Render.TempDir,
			DPI:        cfg.Render.DPI,
			LowMaxPx:   cfg.Render.LowMaxPx,
			HighMaxPx:  cfg.Render.HighMaxPx,
			Rasterizer: render.NewPdftoppm(cfg.Render.PdftoppmPath),
		},
		open: OpenRendered,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// stage builds the Stage for one pass.
func (p *Pipeline) stage(pages PageSource, name string, size int, modelName string, pc config.PassConfig) Stage {
	b := p.cfg.Batch
	return Stage{
		Infer: p.infer,
		Pages: pages,
		Batch: batch.Config{
			Name:                name,
			BatchSize:           size,
			Cooldown:            b.Cooldown(),
			MaxRetries:          b.MaxRetries,
			BaseDelay:           b.BackoffBase(),
			MaxDelay:            b.MaxBackoff(),
			RateLimitMultiplier: b.RateLimitMultiplier,
			Backoff:             b.BackoffStrategy(),
			Jitter:              b.JitterFraction,
		},
		Options: inference.Options{
			Model:       modelName,
			MaxTokens:   int64(pc.MaxTokens),
			Temperature: pc.Temperature,
		},
		Metrics: p.metrics,
	}
}

// Run executes every stage over the document at path. Only a
// resilience.DocumentReadError or cancellation of ctx fails the run; any
// other problem degrades the result instead.
func (p *Pipeline) Run(ctx context.Context, path string, tax model.Taxonomy) (*model.Result, error) {
	start := time.Now()
	log := zap.L().With(zap.String("document", filepath.Base(path)))
	log.Info("pipeline: starting takeoff")

	p.metrics.StartRun()
	status := string(model.RunStatusFailed)
	defer func() { p.metrics.FinishRun(status) }()

	// Bookkeeping must still land after ctx is cancelled.
	bg := context.WithoutCancel(ctx)

	result := &model.Result{
		Document:    model.DocumentRef{Name: filepath.Base(path), Path: path},
		FailedPages: []int{},
	}

	var runID string
	if run, err := p.store.CreateRun(bg, result.Document); err != nil {
		log.Warn("pipeline: failed to create run", zap.Error(err))
	} else {
		runID = run.ID
		result.RunID = run.ID
		log = log.With(zap.String("run_id", run.ID))
	}

	setStatus := func(s model.RunStatus) {
		if runID == "" {
			return
		}
		if err := p.store.UpdateRunStatus(bg, runID, s); err != nil {
			log.Warn("pipeline: failed to update status", zap.Error(err))
		}
	}

	fail := func(err error) (*model.Result, error) {
		if runID != "" {
			if ferr := p.store.FailRun(bg, runID, err.Error()); ferr != nil {
				log.Warn("pipeline: failed to mark run failed", zap.Error(ferr))
			}
		}
		log.Error("pipeline: takeoff failed", zap.Error(err))
		return result, err
	}

	trackPhase := func(name string, fn func() (*model.PhaseResult, error)) *model.PhaseResult {
		var phase *model.RunPhase
		if runID != "" {
			var err error
			phase, err = p.store.CreatePhase(bg, runID, name)
			if err != nil {
				log.Warn("pipeline: failed to create phase", zap.String("phase", name), zap.Error(err))
			}
		}

		phaseStart := time.Now()
		phaseResult, fnErr := fn()
		elapsed := time.Since(phaseStart)
		p.metrics.ObserveStage(name, elapsed)

		if phaseResult == nil {
			phaseResult = &model.PhaseResult{}
		}
		phaseResult.Name = name
		phaseResult.Duration = elapsed.Milliseconds()

		if fnErr != nil {
			phaseResult.Status = model.PhaseStatusFailed
			phaseResult.Error = fnErr.Error()
			log.Error("pipeline: phase failed",
				zap.String("phase", name),
				zap.Int64("duration_ms", phaseResult.Duration),
				zap.Error(fnErr),
			)
		} else {
			if phaseResult.Status == "" {
				phaseResult.Status = model.PhaseStatusComplete
			}
			log.Info("pipeline: phase complete",
				zap.String("phase", name),
				zap.Int64("duration_ms", phaseResult.Duration),
				zap.Int("calls", phaseResult.TokenUsage.Calls),
			)
		}

		if phase != nil {
			if err := p.store.CompletePhase(bg, phase.ID, phaseResult); err != nil {
				log.Warn("pipeline: failed to complete phase", zap.String("phase", name), zap.Error(err))
			}
		}
		result.Phases = append(result.Phases, *phaseResult)
		result.TokenUsage.Add(phaseResult.TokenUsage)
		return phaseResult
	}

	// ===== Open =====
	var doc Document
	var openErr error
	trackPhase("open", func() (*model.PhaseResult, error) {
		d, err := p.open(ctx, path, p.render)
		if err != nil {
			if !resilience.IsDocumentReadError(err) {
				err = &resilience.DocumentReadError{Path: path, Err: err}
			}
			openErr = err
			return nil, err
		}
		doc = d
		return &model.PhaseResult{Metadata: map[string]any{"pages": d.Ref().PageCount}}, nil
	})
	if openErr != nil {
		return fail(openErr)
	}
	defer func() {
		if err := doc.Close(); err != nil {
			log.Warn("pipeline: failed to clean up rendered pages", zap.Error(err))
		}
	}()

	ref := doc.Ref()
	result.Document = ref
	result.TotalPages = ref.PageCount
	pc := p.cfg.Pipeline
	haiku, sonnet := p.cfg.Anthropic.HaikuModel, p.cfg.Anthropic.SonnetModel

	// ===== Stage 0: Document context =====
	setStatus(model.RunStatusContext)
	dctx := model.NewDocumentContext()
	trackPhase("0_context", func() (*model.PhaseResult, error) {
		pages := leadingPages(ref.PageCount, pc.ContextPages)
		st := p.stage(doc, "0_context", p.cfg.Batch.ContextSize, sonnet, pc.Context)
		var usage model.TokenUsage
		dctx, usage = BuildContext(ctx, st, pages)
		return &model.PhaseResult{
			TokenUsage: usage,
			Metadata: map[string]any{
				"pages":              len(pages),
				"legend_items":       len(dctx.LegendItems),
				"key_specifications": len(dctx.KeySpecifications),
			},
		}, nil
	})
	result.Context = dctx
	if err := ctx.Err(); err != nil {
		return fail(eris.Wrap(err, "pipeline: cancelled"))
	}

	// ===== Stage 1: Relevance scan =====
	setStatus(model.RunStatusScanning)
	var scans []model.PageScanResult
	trackPhase("1_scan", func() (*model.PhaseResult, error) {
		pages := SamplePages(ref.PageCount, pc.ScanSample)
		st := p.stage(doc, "1_scan", p.cfg.Batch.ScanSize, haiku, pc.Scan)
		var usage model.TokenUsage
		scans, usage = ScanPages(ctx, st, pages, tax)
		return &model.PhaseResult{
			TokenUsage: usage,
			Metadata: map[string]any{
				"sampled":  len(pages),
				"relevant": len(RelevantPages(scans)),
			},
		}, nil
	})
	relevant := RelevantPages(scans)
	result.ScannedPages = len(scans)
	result.RelevantPages = relevant
	if err := ctx.Err(); err != nil {
		return fail(eris.Wrap(err, "pipeline: cancelled"))
	}

	// ===== Stage 0.5: Detail specs =====
	specs := model.DetailSpecs{}
	trackPhase("0.5_details", func() (*model.PhaseResult, error) {
		candidates := DetailCandidates(scans)
		if len(candidates) == 0 {
			return &model.PhaseResult{
				Status:   model.PhaseStatusSkipped,
				Metadata: map[string]any{"reason": "no detail sheets"},
			}, nil
		}
		st := p.stage(doc, "0.5_details", p.cfg.Batch.DetailSize, sonnet, pc.Details)
		var usage model.TokenUsage
		specs, usage = ExtractDetailSpecs(ctx, st, candidates)
		return &model.PhaseResult{
			TokenUsage: usage,
			Metadata: map[string]any{
				"candidates": len(candidates),
				"specs":      len(specs),
			},
		}, nil
	})
	result.DetailSpecs = specs
	if err := ctx.Err(); err != nil {
		return fail(eris.Wrap(err, "pipeline: cancelled"))
	}

	// ===== Stage 2: Deep extraction =====
	setStatus(model.RunStatusExtracting)
	var pages []model.PageExtraction
	trackPhase("2_extract", func() (*model.PhaseResult, error) {
		selected := SelectForExtraction(relevant, pc.ExtractCap)
		if len(selected) == 0 {
			return &model.PhaseResult{
				Status:   model.PhaseStatusSkipped,
				Metadata: map[string]any{"reason": "no relevant pages"},
			}, nil
		}
		st := p.stage(doc, "2_extract", p.cfg.Batch.ExtractSize, sonnet, pc.Extract)
		var usage model.TokenUsage
		pages, usage = ExtractPages(ctx, st, selected, dctx, specs)
		return &model.PhaseResult{
			TokenUsage: usage,
			Metadata: map[string]any{
				"pages":      len(selected),
				"failed":     len(FailedPages(pages)),
				"quantities": model.CountQuantities(pages),
			},
		}, nil
	})
	result.FailedPages = FailedPages(pages)
	if err := ctx.Err(); err != nil {
		return fail(eris.Wrap(err, "pipeline: cancelled"))
	}

	// ===== Stage 2.5: Deduplication =====
	setStatus(model.RunStatusReconciling)
	trackPhase("2.5_dedup", func() (*model.PhaseResult, error) {
		st := p.stage(nil, "2.5_dedup", 1, sonnet, pc.Dedup)
		var usage model.TokenUsage
		pages, result.Dedup, usage = Deduplicate(ctx, st, pages, pc.DedupSampleItems)
		pr := &model.PhaseResult{
			TokenUsage: usage,
			Metadata: map[string]any{
				"pages_removed": result.Dedup.PagesRemoved,
				"items_before":  result.Dedup.ItemsBefore,
				"items_after":   result.Dedup.ItemsAfter,
			},
		}
		if result.Dedup.Skipped {
			pr.Metadata["reason"] = result.Dedup.Reason
		}
		return pr, nil
	})

	// ===== Stage 3: Enrichment =====
	result.Project = AnalyzeProject(dctx)
	trackPhase("3_enrich", func() (*model.PhaseResult, error) {
		var stats EnrichStats
		pages, stats = Enrich(pages, specs, result.Project)
		return &model.PhaseResult{
			Metadata: map[string]any{
				"site_type":          string(result.Project.SiteType),
				"traffic_level":      string(result.Project.TrafficLevel),
				"detail_matches":     stats.DetailMatches,
				"material_decisions": stats.MaterialDecisions,
				"rewritten":          stats.Rewritten,
				"recommendations":    stats.Recommendations,
			},
		}, nil
	})

	// ===== Stage 4: Implied scope =====
	trackPhase("4_implied", func() (*model.PhaseResult, error) {
		var added int
		pages, added = AppendImpliedScope(pages)
		return &model.PhaseResult{Metadata: map[string]any{"items_added": added}}, nil
	})

	// ===== Aggregate =====
	trackPhase("aggregate", func() (*model.PhaseResult, error) {
		result.Conflicts = DetectConflicts(pages)
		result.LineItems = BuildLineItems(pages, result.Conflicts)
		result.Questions = BuildQuestions(result.Conflicts, pages)
		return &model.PhaseResult{
			Metadata: map[string]any{
				"line_items": len(result.LineItems),
				"conflicts":  len(result.Conflicts),
			},
		}, nil
	})

	if pages == nil {
		pages = []model.PageExtraction{}
	}
	result.DocumentMap = pages
	result.Cost = cost.Breakdown(result.Phases)
	result.ProcessingTime = time.Since(start).Milliseconds()

	if runID != "" {
		if err := p.store.UpdateRunResult(bg, runID, result); err != nil {
			log.Warn("pipeline: failed to save run result", zap.Error(err))
		}
	}
	status = string(model.RunStatusComplete)

	log.Info("pipeline: takeoff complete",
		zap.Int("pages", ref.PageCount),
		zap.Int("relevant", len(relevant)),
		zap.Int("line_items", len(result.LineItems)),
		zap.Int("conflicts", len(result.Conflicts)),
		zap.Float64("cost_usd", result.Cost.TotalUSD),
		zap.Int64("duration_ms", result.ProcessingTime),
	)
	return result, nil
}

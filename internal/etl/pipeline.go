package etl

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/bancoinsights/bacen-etl/internal/catalog"
	"github.com/bancoinsights/bacen-etl/internal/derive"
	"github.com/bancoinsights/bacen-etl/internal/loader"
	"github.com/bancoinsights/bacen-etl/internal/model"
	"github.com/bancoinsights/bacen-etl/internal/pivot"
	"github.com/bancoinsights/bacen-etl/internal/store"
)

// GenerationStore persists committed generations and serves the schemas of
// the current one for drift detection.
type GenerationStore interface {
	LoadSchemas(ctx context.Context) (map[model.ReportID]*model.ReportSchema, error)
	Commit(ctx context.Context, gen *store.Generation) error
}

// Options configures a pipeline run.
type Options struct {
	Inputs       []string
	RegistryPath string

	Delimiter     rune
	Encoding      string
	SkipThreshold *float64 // nil uses loader.DefaultSkipThreshold

	Workers             int
	AllowPartialWindows bool
	FillAcrossReports   bool

	ReleaseLagMonths int
	Force            bool // ignore the release schedule
}

// Result is the outcome of a pipeline run.
type Result struct {
	// Skipped is set when the release schedule says no new quarter is due.
	Skipped    bool
	RunID      int64
	Generation *store.Generation
	Data       *store.DataStore
	Published  *PublishStats
	Elapsed    time.Duration
}

// Pipeline runs Load, Pivot, Derive and Market in sequence over an explicit
// DataStore and commits the result as a new generation. Nothing is visible to
// readers until the commit succeeds.
type Pipeline struct {
	cat       *catalog.Catalog
	store     GenerationStore
	runLog    *RunLog
	publisher *Publisher
	opts      Options
	now       func() time.Time
	log       *zap.Logger
}

// New creates a Pipeline.
func New(cat *catalog.Catalog, st GenerationStore, opts Options) *Pipeline {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.ReleaseLagMonths <= 0 {
		opts.ReleaseLagMonths = DefaultReleaseLagMonths
	}
	return &Pipeline{
		cat:   cat,
		store: st,
		opts:  opts,
		now:   func() time.Time { return time.Now().UTC() },
		log:   zap.L().With(zap.String("component", "etl.pipeline")),
	}
}

// WithRunLog records runs in Postgres and enables schedule checks.
func (p *Pipeline) WithRunLog(rl *RunLog) *Pipeline {
	p.runLog = rl
	return p
}

// WithPublisher mirrors each committed generation into Postgres.
func (p *Pipeline) WithPublisher(pub *Publisher) *Pipeline {
	p.publisher = pub
	return p
}

// Run executes the pipeline once.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	start := time.Now()

	if p.runLog != nil && !p.opts.Force {
		last, err := p.runLog.LastSuccess(ctx)
		if err != nil {
			return nil, eris.Wrap(err, "etl: check last run")
		}
		if !ShouldRun(p.now(), last, p.opts.ReleaseLagMonths) {
			p.log.Info("no new quarter released since last run, skipping",
				zap.Timep("last_success", last),
				zap.String("latest_released", LatestReleasedPeriod(p.now(), p.opts.ReleaseLagMonths).String()),
			)
			return &Result{Skipped: true}, nil
		}
	}

	var runID int64
	if p.runLog != nil {
		id, err := p.runLog.Start(ctx, p.cat.Version)
		if err != nil {
			return nil, eris.Wrap(err, "etl: start run log")
		}
		runID = id
	}

	res, err := p.execute(ctx)
	if err != nil {
		p.log.Error("run failed", zap.Int64("run_id", runID), zap.Error(err))
		if p.runLog != nil {
			if logErr := p.runLog.Fail(context.WithoutCancel(ctx), runID, err.Error()); logErr != nil {
				p.log.Error("failed to record run failure", zap.Error(logErr))
			}
		}
		return nil, err
	}
	res.RunID = runID
	res.Elapsed = time.Since(start)

	if p.runLog != nil {
		if err := p.runLog.Complete(ctx, runID, runResult(res)); err != nil {
			p.log.Error("failed to record run completion", zap.Error(err))
		}
	}

	p.log.Info("run complete",
		zap.Int64("run_id", runID),
		zap.String("generation", res.Generation.ID),
		zap.String("digest", res.Generation.Digest),
		zap.Duration("elapsed", res.Elapsed),
	)
	return res, nil
}

func (p *Pipeline) execute(ctx context.Context) (*Result, error) {
	ds := store.NewDataStore()

	reg, err := loader.LoadRegistry(p.opts.RegistryPath)
	if err != nil {
		return nil, err
	}
	ds.Registry = reg

	loaded, err := loader.New(loader.Options{
		Delimiter:     p.opts.Delimiter,
		Encoding:      p.opts.Encoding,
		SkipThreshold: p.opts.SkipThreshold,
		ReportAliases: p.cat.ReportAliases(),
	}).Load(ctx, p.opts.Inputs)
	if err != nil {
		return nil, err
	}
	ds.Observations = loaded.Observations
	ds.LoadStats = loaded.Stats
	for _, inst := range loaded.Institutions {
		ds.Registry.Enrich(inst)
	}

	previous, err := p.store.LoadSchemas(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "etl: load previous schemas")
	}
	ds.Wide, err = pivot.New(pivot.Options{
		Workers:           p.opts.Workers,
		FillAcrossReports: p.opts.FillAcrossReports,
		Previous:          previous,
	}).Pivot(ctx, ds.Observations)
	if err != nil {
		return nil, err
	}
	if err := pivot.CheckDrift(ds.Wide, previous, p.cat.Reports.Required); err != nil {
		return nil, err
	}

	ds.Derived, ds.DeriveStats, err = derive.NewCalculator(p.cat, derive.Options{
		Workers:             p.opts.Workers,
		AllowPartialWindows: p.opts.AllowPartialWindows,
	}).Compute(ctx, ds.Wide)
	if err != nil {
		return nil, err
	}
	ds.Market, err = derive.ComputeMarket(ds.Wide, ds.Derived, p.cat.MarketRefs)
	if err != nil {
		return nil, err
	}

	gen, err := store.NewGeneration(ds, p.cat.Version)
	if err != nil {
		return nil, err
	}
	if err := p.store.Commit(ctx, gen); err != nil {
		return nil, eris.Wrap(err, "etl: commit generation")
	}
	res := &Result{Generation: gen, Data: ds}

	if p.publisher != nil {
		stats, err := p.publisher.Publish(ctx, gen)
		if err != nil {
			return nil, eris.Wrapf(err, "etl: generation %s committed locally but not published", gen.ID)
		}
		res.Published = stats
	}
	return res, nil
}

func runResult(res *Result) *RunResult {
	ds := res.Data
	meta := map[string]any{
		"files":        ds.LoadStats.Files,
		"rows":         ds.LoadStats.Rows,
		"skipped":      ds.LoadStats.Skipped,
		"reports":      len(ds.Wide.Tables),
		"duplicates":   ds.Wide.Duplicates,
		"conflicts":    ds.Wide.Conflicts,
		"derived":      ds.DeriveStats,
		"institutions": ds.Registry.Len(),
	}
	if res.Published != nil {
		meta["published_tables"] = res.Published.Tables
	}
	return &RunResult{
		RowsLoaded:   ds.LoadStats.Loaded,
		RowsSkipped:  ds.LoadStats.SkippedTotal(),
		GenerationID: res.Generation.ID,
		Digest:       res.Generation.Digest,
		Metadata:     meta,
	}
}

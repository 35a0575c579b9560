// Package orchestrator validates run requests, short-circuits cached
// decisions, and drives the agent graph for everything else.
package orchestrator

import (
	"context"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"

	"minerva/internal/adapters/ai"
	"minerva/internal/adapters/config"
	"minerva/internal/agents"
	"minerva/internal/agents/state"
	"minerva/internal/cache"
	"minerva/internal/domain/memory"
	"minerva/internal/domain/run"
	"minerva/internal/events"
	"minerva/internal/graph"
	"minerva/internal/metrics"
	"minerva/internal/progress"
	"minerva/internal/tools"
	"minerva/pkg/errors"
	"minerva/pkg/logger"
)

var symbolPattern = regexp.MustCompile(`^[A-Z][A-Z0-9.\-]{0,9}$`)

const tradeDateLayout = "2006-01-02"

// ModelResolver picks a provider-bound invoker for a model id. Satisfied by
// the ai.Resolver.
type ModelResolver interface {
	Invoker(modelID string) (ai.ChatInvoker, error)
	DefaultModel() string
}

// RunRegistry is the run lifecycle table. Satisfied by *runs.Registry.
type RunRegistry interface {
	Start(ctx context.Context, rec *run.Run) error
	Get(id uuid.UUID) (*run.Run, error)
	ListActive() []*run.Run
	Complete(ctx context.Context, id uuid.UUID, decision *run.Decision) error
	Fail(ctx context.Context, id uuid.UUID, message string) error
	EvictExpired(now time.Time, retention time.Duration) int
}

// StartRequest is a client's run-start payload.
type StartRequest struct {
	Symbol           string            `json:"symbol"`
	TradeDate        string            `json:"trade_date"`
	ModelID          string            `json:"model_id,omitempty"`
	SelectedAnalysts []run.AnalystKind `json:"selected_analysts,omitempty"`
	DebateRounds     int               `json:"debate_rounds,omitempty"`
	RiskRounds       int               `json:"risk_rounds,omitempty"`
}

// Service is the decision orchestrator.
type Service struct {
	cfg      config.OrchestratorConfig
	resolver ModelResolver
	registry RunRegistry
	bus      *progress.Bus
	cache    *cache.DecisionCache
	toolReg  *tools.Registry
	memory   *memory.Service
	usage    agents.UsageLogger
	events   *events.Publisher
	log      *logger.Logger

	sem chan struct{}
	wg  sync.WaitGroup
}

// Options carries the orchestrator's collaborators. Memory, Usage, and Events
// are optional.
type Options struct {
	Config   config.OrchestratorConfig
	Resolver ModelResolver
	Registry RunRegistry
	Bus      *progress.Bus
	Cache    *cache.DecisionCache
	Tools    *tools.Registry
	Memory   *memory.Service
	Usage    agents.UsageLogger
	Events   *events.Publisher
}

// New assembles the orchestrator service.
func New(opts Options) *Service {
	maxRuns := opts.Config.MaxConcurrentRuns
	if maxRuns <= 0 {
		maxRuns = 8
	}

	svc := &Service{
		cfg:      opts.Config,
		resolver: opts.Resolver,
		registry: opts.Registry,
		bus:      opts.Bus,
		cache:    opts.Cache,
		toolReg:  opts.Tools,
		memory:   opts.Memory,
		usage:    opts.Usage,
		events:   opts.Events,
		log:      logger.Get().With("component", "orchestrator"),
		sem:      make(chan struct{}, maxRuns),
	}
	if svc.events == nil {
		svc.events = events.NewPublisher(nil, "")
	}
	return svc
}

// StartRun validates the request, consults the decision cache, and either
// completes instantly from cache or launches the graph on a background
// goroutine. Validation and model resolution fail synchronously; everything
// after the returned run record is reported through the progress stream.
func (s *Service) StartRun(ctx context.Context, req StartRequest) (*run.Run, error) {
	cfg, err := s.buildConfig(req)
	if err != nil {
		return nil, err
	}

	// Resolve the model now so credential and allow-list problems surface
	// before the caller starts streaming progress.
	invoker, err := s.resolver.Invoker(cfg.ModelID)
	if err != nil {
		return nil, err
	}

	fingerprint, err := cache.InputFingerprint(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "input fingerprint")
	}

	rec := &run.Run{
		ID:        uuid.New(),
		Config:    cfg,
		Status:    run.StatusPending,
		StartedAt: time.Now(),
	}
	s.bus.Register(rec.ID)

	if s.cache != nil {
		if decision, err := s.cache.Get(ctx, cfg.AgentVersion, cfg.Symbol, fingerprint); err == nil {
			return s.completeFromCache(ctx, rec, decision)
		} else if !errors.Is(err, errors.ErrNotFound) {
			s.log.Warnw("decision cache read failed", "run_id", rec.ID, "error", err)
		}
	}

	if err := s.registry.Start(ctx, rec); err != nil {
		// The channel was registered before the cache check; without a
		// terminal event it would outlive every sweep.
		s.bus.Drop(rec.ID)
		return nil, err
	}
	metrics.RunsStarted.WithLabelValues("miss").Inc()

	// Copy before launching: the registry hands the same record to the
	// worker goroutine.
	copied := *rec

	s.wg.Add(1)
	go s.execute(rec.ID, cfg, invoker, fingerprint)

	return &copied, nil
}

// buildConfig validates and defaults a start request into the immutable run
// config snapshot.
func (s *Service) buildConfig(req StartRequest) (run.Config, error) {
	if !symbolPattern.MatchString(req.Symbol) {
		return run.Config{}, errors.Wrapf(errors.ErrInvalidSymbol, "symbol %q", req.Symbol)
	}
	if _, err := time.Parse(tradeDateLayout, req.TradeDate); err != nil {
		return run.Config{}, errors.Wrapf(errors.ErrInvalidInput, "trade date %q", req.TradeDate)
	}

	debateRounds := req.DebateRounds
	if debateRounds == 0 {
		debateRounds = s.cfg.InvestmentDebateRounds
	}
	riskRounds := req.RiskRounds
	if riskRounds == 0 {
		riskRounds = s.cfg.RiskDebateRounds
	}
	if debateRounds < 1 || riskRounds < 1 {
		return run.Config{}, errors.Wrap(errors.ErrInvalidInput, "rounds must be at least 1")
	}

	analysts := req.SelectedAnalysts
	if len(analysts) == 0 {
		analysts = run.AllAnalysts
	}
	for _, kind := range analysts {
		if !run.ValidAnalyst(kind) {
			return run.Config{}, errors.Wrapf(errors.ErrInvalidInput, "unknown analyst %q", kind)
		}
	}

	modelID := req.ModelID
	if modelID == "" {
		modelID = s.resolver.DefaultModel()
	}

	return run.Config{
		Symbol:           req.Symbol,
		TradeDate:        req.TradeDate,
		ModelID:          modelID,
		SelectedAnalysts: analysts,
		DebateRounds:     debateRounds,
		RiskRounds:       riskRounds,
		AgentVersion:     s.cfg.AgentVersion,
	}, nil
}

// syntheticStages is the stage order a cache hit replays so the stream looks
// like an instant full run.
var syntheticStages = []progress.Event{
	{Stage: progress.StageAnalysts, Label: "cached", Percent: 30},
	{Stage: progress.StageDebate, Label: "cached", Percent: 65},
	{Stage: progress.StageManager, Label: "cached", Percent: 75},
	{Stage: progress.StageTrader, Label: "cached", Percent: 82},
	{Stage: progress.StageRisk, Label: "cached", Percent: 92},
}

func (s *Service) completeFromCache(ctx context.Context, rec *run.Run, decision *run.Decision) (*run.Run, error) {
	rec.CacheHit = true
	if err := s.registry.Start(ctx, rec); err != nil {
		s.bus.Drop(rec.ID)
		return nil, err
	}
	metrics.RunsStarted.WithLabelValues("hit").Inc()

	for _, ev := range syntheticStages {
		s.publish(rec.ID, ev)
	}
	if err := s.registry.Complete(ctx, rec.ID, decision); err != nil {
		return nil, err
	}
	s.publish(rec.ID, progress.Event{Stage: progress.StageComplete, Label: "cached", Percent: 100})
	metrics.RunsFinished.WithLabelValues("complete").Inc()
	s.events.DecisionMade(ctx, decision, true)

	return s.registry.Get(rec.ID)
}

// execute drives one full graph run. It owns the terminal event.
func (s *Service) execute(runID uuid.UUID, cfg run.Config, invoker ai.ChatInvoker, fingerprint string) {
	defer s.wg.Done()

	s.sem <- struct{}{}
	defer func() { <-s.sem }()

	metrics.RunsActive.Inc()
	defer metrics.RunsActive.Dec()
	start := time.Now()

	ctx := context.Background()
	st := state.New(runID, cfg)

	deps := agents.Deps{
		Invoker:  invoker,
		Registry: s.toolReg,
		Memory:   s.memory,
		Bus:      s.bus,
		Usage:    s.usage,
		Log:      s.log,
	}

	g, err := agents.BuildGraph(deps, cfg)
	if err == nil {
		err = graph.NewExecutor(s.bus).Run(ctx, g, runID, st)
	}
	if err != nil {
		s.fail(ctx, runID, start, err)
		return
	}

	decision := &run.Decision{
		RunID:            runID,
		Symbol:           cfg.Symbol,
		TradeDate:        cfg.TradeDate,
		ModelID:          cfg.ModelID,
		AgentVersion:     cfg.AgentVersion,
		Reports:          st.Reports,
		InvestmentPlan:   st.InvestmentPlan,
		TraderPlan:       st.TraderPlan,
		FinalDecision:    st.FinalDecision,
		InputFingerprint: fingerprint,
		CreatedAt:        time.Now().UTC(),
	}

	if s.cache != nil {
		if err := s.cache.Put(ctx, decision); err != nil {
			s.log.Warnw("decision cache write failed", "run_id", runID, "error", err)
		}
	}
	if err := s.registry.Complete(ctx, runID, decision); err != nil {
		s.log.Warnw("run completion failed", "run_id", runID, "error", err)
	}
	s.publish(runID, progress.Event{Stage: progress.StageComplete, Percent: 100})
	metrics.RunsFinished.WithLabelValues("complete").Inc()
	metrics.RunDuration.WithLabelValues("complete").Observe(time.Since(start).Seconds())
	s.events.DecisionMade(ctx, decision, false)
}

func (s *Service) fail(ctx context.Context, runID uuid.UUID, start time.Time, cause error) {
	s.log.Errorw("run failed", "run_id", runID, "error", cause)

	if err := s.registry.Fail(ctx, runID, cause.Error()); err != nil {
		s.log.Warnw("run failure record failed", "run_id", runID, "error", err)
	}
	s.publish(runID, progress.Event{
		Stage:   progress.StageError,
		Percent: 100,
		Message: cause.Error(),
	})
	metrics.RunsFinished.WithLabelValues("failed").Inc()
	metrics.RunDuration.WithLabelValues("failed").Observe(time.Since(start).Seconds())
}

func (s *Service) publish(runID uuid.UUID, ev progress.Event) {
	if err := s.bus.Publish(runID, ev); err != nil {
		s.log.Warnw("progress publish failed", "run_id", runID, "stage", ev.Stage, "error", err)
	}
}

// Subscribe attaches to a run's progress stream, replaying missed events.
func (s *Service) Subscribe(runID uuid.UUID) (<-chan progress.Event, error) {
	return s.bus.Subscribe(runID)
}

// GetRun returns the tracked run record.
func (s *Service) GetRun(runID uuid.UUID) (*run.Run, error) {
	return s.registry.Get(runID)
}

// GetDecision returns the decision of a completed run.
func (s *Service) GetDecision(runID uuid.UUID) (*run.Decision, error) {
	rec, err := s.registry.Get(runID)
	if err != nil {
		return nil, err
	}
	if rec.Decision == nil {
		return nil, errors.Wrapf(errors.ErrNotFound, "run %s has no decision", runID)
	}
	return rec.Decision, nil
}

// ListActive returns all in-flight runs.
func (s *Service) ListActive() []*run.Run {
	return s.registry.ListActive()
}

// InvalidateSymbol drops every cached decision for a symbol under the current
// agent version.
func (s *Service) InvalidateSymbol(ctx context.Context, symbol string) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.InvalidateSymbol(ctx, s.cfg.AgentVersion, symbol)
}

// Janitor evicts expired runs and sweeps closed progress channels until the
// context ends.
func (s *Service) Janitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			evicted := s.registry.EvictExpired(now, s.cfg.RunRetentionTTL)
			swept := s.bus.Sweep(now)
			if evicted > 0 || swept > 0 {
				s.log.Debugw("janitor pass", "runs_evicted", evicted, "channels_swept", swept)
			}
		}
	}
}

// Wait blocks until every launched run finishes. Used on shutdown and in
// tests.
func (s *Service) Wait() {
	s.wg.Wait()
}

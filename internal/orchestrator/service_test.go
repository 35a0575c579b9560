package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"minerva/internal/adapters/ai"
	"minerva/internal/adapters/config"
	"minerva/internal/cache"
	"minerva/internal/domain/run"
	"minerva/internal/progress"
	"minerva/internal/runs"
	"minerva/internal/tools"
	"minerva/pkg/errors"
)

// scriptedInvoker answers from the request shape: analyst turns request the
// first offered tool, turns that already carry tool results produce a report,
// and every other persona answers with canned text.
type scriptedInvoker struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *scriptedInvoker) Model() string { return "gpt-4o-mini" }

func (f *scriptedInvoker) Chat(ctx context.Context, req ai.ChatRequest) (*ai.ChatResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	if f.err != nil {
		return nil, f.err
	}
	return &ai.ChatResponse{
		ID:      fmt.Sprintf("resp-%d", f.calls),
		Model:   req.Model,
		Choices: []ai.Choice{{Message: f.respond(req), FinishReason: ai.FinishReasonStop}},
		Usage:   ai.Usage{PromptTokens: 5, CompletionTokens: 5, TotalTokens: 10},
	}, nil
}

func (f *scriptedInvoker) respond(req ai.ChatRequest) ai.Message {
	if len(req.Tools) > 0 {
		for _, m := range req.Messages {
			if m.Role == ai.RoleTool {
				return ai.AssistantMessage("report built from tool data", nil)
			}
		}
		args, _ := json.Marshal(map[string]interface{}{
			"symbol": "AAPL", "trade_date": "2026-08-25",
		})
		return ai.AssistantMessage("", []ai.ToolCall{{
			ID:   fmt.Sprintf("call-%d", f.calls),
			Type: "function",
			Function: ai.FunctionCall{
				Name:      req.Tools[0].Function.Name,
				Arguments: string(args),
			},
		}})
	}

	prompt := req.Messages[len(req.Messages)-1].Content
	system := req.Messages[0].Content
	switch {
	case strings.Contains(system, "bull researcher"):
		return ai.AssistantMessage("bull argument", nil)
	case strings.Contains(system, "bear researcher"):
		return ai.AssistantMessage("bear argument", nil)
	case strings.Contains(prompt, "research manager"):
		return ai.AssistantMessage("investment plan: accumulate", nil)
	case strings.Contains(prompt, "trader executing"):
		return ai.AssistantMessage("trade proposal: buy on open", nil)
	case strings.Contains(prompt, "risk judge"):
		return ai.AssistantMessage("final decision: BUY", nil)
	case strings.Contains(system, "risk debater"):
		return ai.AssistantMessage("risk argument", nil)
	default:
		return ai.AssistantMessage("generic answer", nil)
	}
}

type staticResolver struct {
	invoker ai.ChatInvoker
	err     error
}

func (r *staticResolver) Invoker(modelID string) (ai.ChatInvoker, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.invoker, nil
}

func (r *staticResolver) DefaultModel() string { return "gpt-4o-mini" }

func steadyTool(name string) tools.Tool {
	return tools.New(name, "test tool", nil, func(ctx context.Context, args map[string]interface{}) (*tools.Result, error) {
		return &tools.Result{
			Payload:     json.RawMessage(`{"data":"ok"}`),
			Fingerprint: "fp-" + name,
			Source:      tools.SourceTTLCache,
		}, nil
	})
}

// flakyTool fails with a transient error a fixed number of times before
// succeeding.
func flakyTool(name string, failures int) tools.Tool {
	var mu sync.Mutex
	return tools.New(name, "flaky test tool", nil, func(ctx context.Context, args map[string]interface{}) (*tools.Result, error) {
		mu.Lock()
		defer mu.Unlock()
		if failures > 0 {
			failures--
			return nil, errors.Wrap(errors.ErrTransientTool, "upstream 503")
		}
		return &tools.Result{
			Payload:     json.RawMessage(`{"data":"recovered"}`),
			Fingerprint: "fp-" + name,
			Source:      tools.SourceNetwork,
		}, nil
	})
}

func fullRegistry() *tools.Registry {
	registry := tools.NewRegistry()
	for _, name := range []string{"market_data", "news_headlines", "social_sentiment", "fundamentals"} {
		registry.Register(steadyTool(name))
	}
	return registry
}

func testConfig() config.OrchestratorConfig {
	return config.OrchestratorConfig{
		AgentVersion:           "1",
		InvestmentDebateRounds: 1,
		RiskDebateRounds:       1,
		ProgressBufferSize:     128,
		RunRetentionTTL:        time.Minute,
		DecisionCacheTTL:       time.Hour,
		MaxConcurrentRuns:      4,
	}
}

func newTestService(t *testing.T, resolver ModelResolver, registry *tools.Registry) *Service {
	t.Helper()
	return New(Options{
		Config:   testConfig(),
		Resolver: resolver,
		Registry: runs.NewRegistry(nil),
		Bus:      progress.NewBus(128, time.Minute),
		Cache:    cache.New(cache.NewMemoryStore(), time.Hour),
		Tools:    registry,
	})
}

func validRequest() StartRequest {
	return StartRequest{
		Symbol:    "AAPL",
		TradeDate: "2026-08-25",
	}
}

// drain reads the stream to closure, failing the test if the terminal event
// never arrives.
func drain(t *testing.T, ch <-chan progress.Event) []progress.Event {
	t.Helper()

	var events []progress.Event
	deadline := time.After(15 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-deadline:
			t.Fatalf("stream did not terminate; got %d events", len(events))
		}
	}
}

func stagesOf(events []progress.Event) []progress.Stage {
	stages := make([]progress.Stage, 0, len(events))
	for _, ev := range events {
		stages = append(stages, ev.Stage)
	}
	return stages
}

func TestStartRunCompletesAndRecordsDecision(t *testing.T) {
	svc := newTestService(t, &staticResolver{invoker: &scriptedInvoker{}}, fullRegistry())

	rec, err := svc.StartRun(context.Background(), validRequest())
	require.NoError(t, err)
	assert.False(t, rec.CacheHit)

	stream, err := svc.Subscribe(rec.ID)
	require.NoError(t, err)
	events := drain(t, stream)
	require.NotEmpty(t, events)

	last := events[len(events)-1]
	assert.Equal(t, progress.StageComplete, last.Stage)
	assert.Equal(t, float64(100), last.Percent)

	got, err := svc.GetRun(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, run.StatusComplete, got.Status)

	decision, err := svc.GetDecision(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "AAPL", decision.Symbol)
	assert.Equal(t, "final decision: BUY", decision.FinalDecision)
	assert.Equal(t, "investment plan: accumulate", decision.InvestmentPlan)
	assert.Equal(t, "trade proposal: buy on open", decision.TraderPlan)
	assert.Len(t, decision.Reports, len(run.AllAnalysts))
	assert.NotEmpty(t, decision.InputFingerprint)
}

func TestLateSubscriberReplaysFullStream(t *testing.T) {
	svc := newTestService(t, &staticResolver{invoker: &scriptedInvoker{}}, fullRegistry())

	rec, err := svc.StartRun(context.Background(), validRequest())
	require.NoError(t, err)

	early, err := svc.Subscribe(rec.ID)
	require.NoError(t, err)
	earlyEvents := drain(t, early)

	late, err := svc.Subscribe(rec.ID)
	require.NoError(t, err)
	lateEvents := drain(t, late)

	assert.Equal(t, stagesOf(earlyEvents), stagesOf(lateEvents))
}

func TestCacheHitCompletesInstantly(t *testing.T) {
	svc := newTestService(t, &staticResolver{invoker: &scriptedInvoker{}}, fullRegistry())

	first, err := svc.StartRun(context.Background(), validRequest())
	require.NoError(t, err)
	stream, err := svc.Subscribe(first.ID)
	require.NoError(t, err)
	drain(t, stream)
	firstDecision, err := svc.GetDecision(first.ID)
	require.NoError(t, err)

	started := time.Now()
	second, err := svc.StartRun(context.Background(), validRequest())
	require.NoError(t, err)
	elapsed := time.Since(started)

	assert.True(t, second.CacheHit)
	assert.Less(t, elapsed, 50*time.Millisecond)
	assert.Equal(t, run.StatusComplete, second.Status)

	cachedStream, err := svc.Subscribe(second.ID)
	require.NoError(t, err)
	events := drain(t, cachedStream)
	assert.Equal(t, []progress.Stage{
		progress.StageAnalysts,
		progress.StageDebate,
		progress.StageManager,
		progress.StageTrader,
		progress.StageRisk,
		progress.StageComplete,
	}, stagesOf(events))

	secondDecision, err := svc.GetDecision(second.ID)
	require.NoError(t, err)
	assert.Equal(t, firstDecision, secondDecision)
}

func TestConcurrentRunsStayIsolated(t *testing.T) {
	svc := newTestService(t, &staticResolver{invoker: &scriptedInvoker{}}, fullRegistry())

	reqA := validRequest()
	reqB := validRequest()
	reqB.Symbol = "MSFT"

	recA, err := svc.StartRun(context.Background(), reqA)
	require.NoError(t, err)
	recB, err := svc.StartRun(context.Background(), reqB)
	require.NoError(t, err)

	streamA, err := svc.Subscribe(recA.ID)
	require.NoError(t, err)
	streamB, err := svc.Subscribe(recB.ID)
	require.NoError(t, err)

	eventsA := drain(t, streamA)
	eventsB := drain(t, streamB)

	for _, ev := range eventsA {
		assert.Equal(t, recA.ID, ev.RunID)
	}
	for _, ev := range eventsB {
		assert.Equal(t, recB.ID, ev.RunID)
	}

	decA, err := svc.GetDecision(recA.ID)
	require.NoError(t, err)
	decB, err := svc.GetDecision(recB.ID)
	require.NoError(t, err)
	assert.Equal(t, "AAPL", decA.Symbol)
	assert.Equal(t, "MSFT", decB.Symbol)
	assert.NotEqual(t, decA.InputFingerprint, decB.InputFingerprint)
}

func TestStartRunValidation(t *testing.T) {
	svc := newTestService(t, &staticResolver{invoker: &scriptedInvoker{}}, fullRegistry())

	cases := []struct {
		name    string
		mutate  func(*StartRequest)
		wantErr error
	}{
		{"lowercase symbol", func(r *StartRequest) { r.Symbol = "aapl" }, errors.ErrInvalidSymbol},
		{"too long symbol", func(r *StartRequest) { r.Symbol = "ABCDEFGHIJK" }, errors.ErrInvalidSymbol},
		{"bad trade date", func(r *StartRequest) { r.TradeDate = "08/25/2026" }, errors.ErrInvalidInput},
		{"unknown analyst", func(r *StartRequest) { r.SelectedAnalysts = []run.AnalystKind{"quant"} }, errors.ErrInvalidInput},
		{"negative rounds", func(r *StartRequest) { r.DebateRounds = -1 }, errors.ErrInvalidInput},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validRequest()
			tc.mutate(&req)
			_, err := svc.StartRun(context.Background(), req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.wantErr), "got %v", err)
		})
	}
}

func TestMissingCredentialFailsBeforeLaunch(t *testing.T) {
	resolver := &staticResolver{err: errors.Wrap(errors.ErrMissingCredential, "provider openai")}
	svc := newTestService(t, resolver, fullRegistry())

	_, err := svc.StartRun(context.Background(), validRequest())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrMissingCredential))
	assert.Empty(t, svc.ListActive(), "no run may be registered on synchronous failure")
}

// rejectingRegistry refuses every start, capturing the offered run ID.
type rejectingRegistry struct {
	*runs.Registry
	lastID uuid.UUID
}

func (r *rejectingRegistry) Start(ctx context.Context, rec *run.Run) error {
	r.lastID = rec.ID
	return errors.Wrapf(errors.ErrAlreadyExists, "run %s", rec.ID)
}

func TestRejectedStartLeavesNoProgressChannel(t *testing.T) {
	bus := progress.NewBus(128, time.Minute)
	registry := &rejectingRegistry{Registry: runs.NewRegistry(nil)}
	svc := New(Options{
		Config:   testConfig(),
		Resolver: &staticResolver{invoker: &scriptedInvoker{}},
		Registry: registry,
		Bus:      bus,
		Cache:    cache.New(cache.NewMemoryStore(), time.Hour),
		Tools:    fullRegistry(),
	})

	_, err := svc.StartRun(context.Background(), validRequest())
	require.Error(t, err)

	_, err = bus.Subscribe(registry.lastID)
	assert.True(t, errors.Is(err, errors.ErrRunNotFound), "channel for the rejected run must be dropped")
}

func TestModelFailureEndsRunWithErrorEvent(t *testing.T) {
	invoker := &scriptedInvoker{err: errors.Wrap(errors.ErrUnavailable, "provider down")}
	svc := newTestService(t, &staticResolver{invoker: invoker}, fullRegistry())

	rec, err := svc.StartRun(context.Background(), validRequest())
	require.NoError(t, err)

	stream, err := svc.Subscribe(rec.ID)
	require.NoError(t, err)
	events := drain(t, stream)
	require.NotEmpty(t, events)

	last := events[len(events)-1]
	assert.Equal(t, progress.StageError, last.Stage)
	assert.Contains(t, last.Message, "provider down")

	got, err := svc.GetRun(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, run.StatusFailed, got.Status)
	assert.NotEmpty(t, got.Error)

	_, err = svc.GetDecision(rec.ID)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestTransientToolFailuresRecoverWithWarnings(t *testing.T) {
	registry := tools.NewRegistry()
	registry.Register(flakyTool("market_data", 2))

	svc := newTestService(t, &staticResolver{invoker: &scriptedInvoker{}}, registry)

	req := validRequest()
	req.SelectedAnalysts = []run.AnalystKind{run.AnalystMarket}
	rec, err := svc.StartRun(context.Background(), req)
	require.NoError(t, err)

	stream, err := svc.Subscribe(rec.ID)
	require.NoError(t, err)
	events := drain(t, stream)

	warnings := 0
	for _, ev := range events {
		if ev.Stage == progress.StageWarning {
			warnings++
		}
	}
	assert.GreaterOrEqual(t, warnings, 2, "two 503s mean two retry warnings")

	decision, err := svc.GetDecision(rec.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, decision.Reports[run.AnalystMarket], "run must recover after retries")
}

func TestJanitorEvictsFinishedRuns(t *testing.T) {
	svc := newTestService(t, &staticResolver{invoker: &scriptedInvoker{}}, fullRegistry())
	svc.cfg.RunRetentionTTL = time.Millisecond

	rec, err := svc.StartRun(context.Background(), validRequest())
	require.NoError(t, err)
	stream, err := svc.Subscribe(rec.ID)
	require.NoError(t, err)
	drain(t, stream)

	ctx, cancel := context.WithCancel(context.Background())
	go svc.Janitor(ctx, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		_, err := svc.GetRun(rec.ID)
		return errors.Is(err, errors.ErrRunNotFound)
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
}

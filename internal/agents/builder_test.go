package agents

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
	"minerva/internal/agents/state"
	"minerva/internal/domain/run"
	"minerva/internal/graph"
	"minerva/internal/tools"
	"minerva/pkg/errors"
)

// fakeInvoker scripts chat responses from the request shape: a first analyst
// turn requests a tool call, a turn that already carries tool results
// produces the report, and every other persona answers with canned text.
type fakeInvoker struct {
	mu            sync.Mutex
	calls         int
	judgeVerdicts int
	// clearOnVerdict makes the judge clear the escalation flag on the n-th
	// verdict; zero disables early exit.
	clearOnVerdict int
	// markerOnlyVerdict makes the judge answer with nothing but the marker.
	markerOnlyVerdict bool
}

func (f *fakeInvoker) Model() string { return "gpt-4o-mini" }

func (f *fakeInvoker) Chat(ctx context.Context, req ai.ChatRequest) (*ai.ChatResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	msg := f.respond(req)
	return &ai.ChatResponse{
		ID:      fmt.Sprintf("resp-%d", f.calls),
		Model:   req.Model,
		Choices: []ai.Choice{{Message: msg, FinishReason: ai.FinishReasonStop}},
		Usage:   ai.Usage{PromptTokens: 10, CompletionTokens: 10, TotalTokens: 20},
	}, nil
}

func (f *fakeInvoker) respond(req ai.ChatRequest) ai.Message {
	if len(req.Tools) > 0 {
		for _, m := range req.Messages {
			if m.Role == ai.RoleTool {
				return ai.AssistantMessage("analyst report built from tool data", nil)
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
		f.judgeVerdicts++
		if f.markerOnlyVerdict {
			return ai.AssistantMessage(escalationClearMarker, nil)
		}
		if f.clearOnVerdict > 0 && f.judgeVerdicts >= f.clearOnVerdict {
			return ai.AssistantMessage("final decision: BUY "+escalationClearMarker, nil)
		}
		return ai.AssistantMessage("final decision: BUY", nil)
	case strings.Contains(system, "risk debater"):
		return ai.AssistantMessage("risk argument", nil)
	default:
		return ai.AssistantMessage("generic answer", nil)
	}
}

// fakeTool returns a fixed payload under any registered name.
func fakeTool(name string) tools.Tool {
	return tools.New(name, "test tool", nil, func(ctx context.Context, args map[string]interface{}) (*tools.Result, error) {
		return &tools.Result{
			Payload:     json.RawMessage(`{"data":"ok"}`),
			Fingerprint: "fp-" + name,
			Source:      tools.SourceNetwork,
		}, nil
	})
}

func testRegistry() *tools.Registry {
	registry := tools.NewRegistry()
	for _, name := range []string{"market_data", "news_headlines", "social_sentiment", "fundamentals"} {
		registry.Register(fakeTool(name))
	}
	return registry
}

func runGraph(t *testing.T, invoker ai.ChatInvoker, cfg run.Config) *state.State {
	t.Helper()

	deps := Deps{Invoker: invoker, Registry: testRegistry()}
	g, err := BuildGraph(deps, cfg)
	require.NoError(t, err)

	st := state.New(uuid.New(), cfg)
	exec := graph.NewExecutor(nil)
	exec.BackoffBase = time.Millisecond
	require.NoError(t, exec.Run(context.Background(), g, st.Meta.RunID, st))
	return st
}

func TestFullRunProducesDecision(t *testing.T) {
	cfg := run.Config{
		Symbol:           "AAPL",
		TradeDate:        "2026-08-25",
		SelectedAnalysts: run.AllAnalysts,
		DebateRounds:     2,
		RiskRounds:       2,
	}
	st := runGraph(t, &fakeInvoker{}, cfg)

	for _, kind := range run.AllAnalysts {
		assert.NotEmpty(t, st.Reports[kind], "report for %s", kind)
	}
	assert.Equal(t, "investment plan: accumulate", st.InvestmentPlan)
	assert.Equal(t, "trade proposal: buy on open", st.TraderPlan)
	assert.Equal(t, "final decision: BUY", st.FinalDecision)

	assert.Len(t, st.DebateHistory, 4, "2 debate rounds means 4 utterances")
	assert.Len(t, st.RiskDebateHistory, 6, "2 risk rounds means 6 utterances")
	assert.Empty(t, st.ThreadMessages, "thread must be cleared after the analysts")
	assert.Empty(t, st.ToolScratchpad, "scratchpad must be drained")
}

func TestSingleDebateRoundExactCounts(t *testing.T) {
	cfg := run.Config{
		Symbol:           "AAPL",
		TradeDate:        "2026-08-25",
		SelectedAnalysts: []run.AnalystKind{run.AnalystMarket},
		DebateRounds:     1,
		RiskRounds:       1,
	}
	st := runGraph(t, &fakeInvoker{}, cfg)

	require.Len(t, st.DebateHistory, 2)
	assert.Equal(t, state.RoleBull, st.DebateHistory[0].Role)
	assert.Equal(t, state.RoleBear, st.DebateHistory[1].Role)
	assert.Equal(t, 1, st.Meta.DebateRounds.Current)

	require.Len(t, st.RiskDebateHistory, 3)
	assert.Equal(t, state.RiskAggressive, st.RiskDebateHistory[0].Persona)
	assert.Equal(t, state.RiskConservative, st.RiskDebateHistory[1].Persona)
	assert.Equal(t, state.RiskNeutral, st.RiskDebateHistory[2].Persona)
	assert.Equal(t, 1, st.Meta.RiskRounds.Current)
}

func TestJudgeClearsEscalationEndsRotationEarly(t *testing.T) {
	cfg := run.Config{
		Symbol:           "AAPL",
		TradeDate:        "2026-08-25",
		SelectedAnalysts: []run.AnalystKind{run.AnalystMarket},
		DebateRounds:     1,
		RiskRounds:       3,
	}
	st := runGraph(t, &fakeInvoker{clearOnVerdict: 1}, cfg)

	assert.Len(t, st.RiskDebateHistory, 3, "one rotation before the first verdict")
	assert.False(t, st.Meta.RiskEscalation)
	assert.Equal(t, "final decision: BUY", st.FinalDecision, "marker must be stripped")
}

func TestJudgeMarkerOnlyReplyFailsRun(t *testing.T) {
	cfg := run.Config{
		Symbol:           "AAPL",
		TradeDate:        "2026-08-25",
		SelectedAnalysts: []run.AnalystKind{run.AnalystMarket},
		DebateRounds:     1,
		RiskRounds:       1,
	}
	deps := Deps{Invoker: &fakeInvoker{markerOnlyVerdict: true}, Registry: testRegistry()}
	g, err := BuildGraph(deps, cfg)
	require.NoError(t, err)

	st := state.New(uuid.New(), cfg)
	exec := graph.NewExecutor(nil)
	exec.BackoffBase = time.Millisecond
	err = exec.Run(context.Background(), g, st.Meta.RunID, st)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrFatalNode))
	assert.Empty(t, st.FinalDecision, "a marker-only verdict must never complete a run")
}

func TestAnalystSubsetKeepsCanonicalOrder(t *testing.T) {
	ordered := orderAnalysts([]run.AnalystKind{run.AnalystFundamentals, run.AnalystMarket})
	assert.Equal(t, []run.AnalystKind{run.AnalystMarket, run.AnalystFundamentals}, ordered)
}

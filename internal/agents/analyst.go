package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"minerva/internal/adapters/ai"
	"minerva/internal/agents/state"
	"minerva/internal/domain/run"
	"minerva/internal/graph"
	"minerva/internal/metrics"
	"minerva/internal/tools/catalog"
	"minerva/internal/tools/middleware"
	"minerva/pkg/errors"
)

const (
	toolCallTimeout = 60 * time.Second
	toolMaxRetries  = 2
	toolRetryBase   = time.Second
)

// analystNodeName returns the graph node name owning kind's report slot.
func analystNodeName(kind run.AnalystKind) string { return string(kind) + "_analyst" }

// toolsNodeName returns the tool-execution node paired with kind.
func toolsNodeName(kind run.AnalystKind) string { return "tools_" + string(kind) }

// msgClearNodeName returns the thread-reset node paired with kind.
func msgClearNodeName(kind run.AnalystKind) string { return "msg_clear_" + string(kind) }

// newAnalystNode builds the chat loop body for one analyst kind. On first
// entry it seeds the thread; on re-entry after tool execution it continues
// the conversation. A response without tool calls becomes the report.
func newAnalystNode(deps Deps, kind run.AnalystKind) graph.NodeFunc {
	allowed := catalog.ForAnalyst(kind)

	return func(ctx context.Context, st *state.State) error {
		// Tool outcomes already sit in the thread as messages; the staged
		// scratchpad copies must be consumed before this node returns.
		st.DrainScratchpad()

		if len(st.ThreadMessages) == 0 {
			st.AppendThread(ai.SystemMessage(analystSystemPrompt(kind, st.Symbol, st.TradeDate)))
			st.AppendThread(ai.UserMessage(analystUserPrompt(st, kind)))
		}

		resp, err := deps.Invoker.Chat(ctx, ai.ChatRequest{
			Model:    st.Meta.ModelID,
			Messages: st.ThreadMessages,
			Tools:    deps.Registry.Definitions(allowed...),
		})
		if err != nil {
			return errors.Wrapf(err, "%s analyst", kind)
		}
		deps.logModelCall(ctx, st.Meta.RunID, analystNodeName(kind), resp.Usage)

		msg := resp.First()
		st.AppendThread(msg)

		if !msg.HasToolCalls() {
			st.SetReport(kind, msg.Content)
		}
		return nil
	}
}

// newToolExecNode executes the tool calls requested by the latest assistant
// message. Distinct tools of one batch run concurrently; each call carries
// its own timeout and transient retry budget. A call that still fails
// degrades to an empty result and a warning so the analyst can proceed on
// partial data.
func newToolExecNode(deps Deps, kind run.AnalystKind) graph.NodeFunc {
	label := toolsNodeName(kind)

	return func(ctx context.Context, st *state.State) error {
		last, ok := st.LastThreadMessage()
		if !ok || !last.HasToolCalls() {
			return nil
		}

		results := make([]state.ToolResult, len(last.ToolCalls))
		var wg sync.WaitGroup
		for i, call := range last.ToolCalls {
			wg.Add(1)
			go func(i int, call ai.ToolCall) {
				defer wg.Done()
				results[i] = executeToolCall(ctx, deps, st.Meta.RunID, label, call)
			}(i, call)
		}
		wg.Wait()

		// Append in request order so replays stay deterministic.
		for _, res := range results {
			st.AppendThread(ai.ToolMessage(res.CallID, res.Tool, res.Payload))
			st.AddToolResult(res)
		}
		return nil
	}
}

func executeToolCall(ctx context.Context, deps Deps, runID uuid.UUID, label string, call ai.ToolCall) state.ToolResult {
	name := call.Function.Name
	degraded := state.ToolResult{CallID: call.ID, Tool: name, Payload: "{}"}

	tool, ok := deps.Registry.Get(name)
	if !ok {
		deps.warn(runID, label, fmt.Sprintf("model requested unknown tool %q", name), 0)
		return degraded
	}

	var args map[string]interface{}
	if call.Function.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			deps.warn(runID, label, fmt.Sprintf("malformed arguments for %s: %v", name, err), 0)
			return degraded
		}
	}

	wrapped := middleware.RetryMiddleware{
		MaxRetries: toolMaxRetries,
		Backoff:    toolRetryBase,
		OnRetry: func(attempt int, err error) {
			deps.warn(runID, label, fmt.Sprintf("retrying %s after transient failure: %v", name, err), attempt)
		},
	}.Wrap(middleware.TimeoutMiddleware{Timeout: toolCallTimeout}.Wrap(tool))

	start := time.Now()
	res, err := wrapped.Execute(ctx, args)
	if err != nil {
		deps.logger().Warnw("tool failed, degrading to empty result",
			"tool", name, "run_id", runID, "error", err)
		deps.warn(runID, label, fmt.Sprintf("%s failed after retries: %v", name, err), 0)
		return degraded
	}
	metrics.ToolExecutions.WithLabelValues(name, string(res.Source)).Inc()
	if deps.Usage != nil {
		deps.Usage.LogToolInvocation(ctx, runID, name, string(res.Source), time.Since(start), res.Fingerprint)
	}

	return state.ToolResult{
		CallID:      call.ID,
		Tool:        name,
		Payload:     string(res.Payload),
		Fingerprint: res.Fingerprint,
		Source:      string(res.Source),
	}
}

// newMsgClearNode resets the thread between analyst loops so each analyst
// starts from a clean conversation.
func newMsgClearNode() graph.NodeFunc {
	return func(ctx context.Context, st *state.State) error {
		st.ClearThread()
		return nil
	}
}

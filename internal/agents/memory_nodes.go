package agents

import (
	"context"
	"fmt"

	"minerva/internal/agents/state"
	"minerva/internal/domain/run"
	"minerva/internal/graph"
)

const (
	nodeLoadMemories    = "load_memories"
	nodePersistMemories = "persist_memories"

	recallLimit          = 5
	reflectionImportance = 0.5
)

// memoryPersonas are the personas that recall and reflect across runs.
func memoryPersonas(selected []run.AnalystKind) []string {
	personas := make([]string, 0, len(selected)+4)
	for _, kind := range selected {
		personas = append(personas, string(kind)+"_analyst")
	}
	return append(personas, "bull", "bear", "trader", "risk_judge")
}

// newLoadMemoriesNode hydrates persona memories before the analysts start.
// Recall failures degrade to empty memories rather than failing the run.
func newLoadMemoriesNode(deps Deps, selected []run.AnalystKind) graph.NodeFunc {
	return func(ctx context.Context, st *state.State) error {
		if deps.Memory == nil {
			return nil
		}

		query := fmt.Sprintf("%s on %s", st.Symbol, st.TradeDate)
		for _, persona := range memoryPersonas(selected) {
			mems, err := deps.Memory.Recall(ctx, persona, st.Symbol, query, recallLimit)
			if err != nil {
				deps.logger().Warnw("memory recall failed",
					"run_id", st.Meta.RunID, "persona", persona, "error", err)
				continue
			}
			if len(mems) > 0 {
				st.Meta.Memories[persona] = mems
			}
		}
		return nil
	}
}

// newPersistMemoriesNode stores one reflection per deciding persona after the
// final decision exists. Best effort: storage failures are logged, not fatal.
func newPersistMemoriesNode(deps Deps) graph.NodeFunc {
	return func(ctx context.Context, st *state.State) error {
		if deps.Memory == nil {
			return nil
		}

		reflections := map[string]string{
			"trader":     st.TraderPlan,
			"risk_judge": st.FinalDecision,
		}
		if last := lastDebateContent(st, state.RoleBull); last != "" {
			reflections["bull"] = last
		}
		if last := lastDebateContent(st, state.RoleBear); last != "" {
			reflections["bear"] = last
		}

		for persona, content := range reflections {
			if content == "" {
				continue
			}
			if err := deps.Memory.Reflect(ctx, st.Meta.RunID, persona, st.Symbol, content, reflectionImportance); err != nil {
				deps.logger().Warnw("memory reflection failed",
					"run_id", st.Meta.RunID, "persona", persona, "error", err)
			}
		}
		return nil
	}
}

func lastDebateContent(st *state.State, role state.DebateRole) string {
	for i := len(st.DebateHistory) - 1; i >= 0; i-- {
		if st.DebateHistory[i].Role == role {
			return st.DebateHistory[i].Content
		}
	}
	return ""
}

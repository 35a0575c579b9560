package agents

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"minerva/internal/adapters/ai"
	"minerva/internal/agents/state"
	"minerva/internal/domain/run"
)

func snapshotWith(mutate func(st *state.State)) state.Snapshot {
	st := state.New(uuid.New(), run.Config{
		Symbol:       "AAPL",
		TradeDate:    "2026-08-25",
		DebateRounds: 2,
		RiskRounds:   2,
	})
	if mutate != nil {
		mutate(st)
	}
	return st.Snapshot()
}

func TestAnalystRouterPendingToolCalls(t *testing.T) {
	router := analystRouter(run.AnalystMarket)

	snap := snapshotWith(func(st *state.State) {
		st.AppendThread(ai.AssistantMessage("", []ai.ToolCall{{ID: "c1", Type: "function"}}))
	})
	assert.Equal(t, "tools_market", router(snap))

	snap = snapshotWith(func(st *state.State) {
		st.AppendThread(ai.AssistantMessage("final report", nil))
	})
	assert.Equal(t, "msg_clear_market", router(snap))
}

func TestDebateRouterAlternatesUntilLimit(t *testing.T) {
	snap := snapshotWith(func(st *state.State) {
		st.AppendDebate(state.RoleBull, "a1")
	})
	assert.Equal(t, nodeBear, debateRouter(snap))

	snap = snapshotWith(func(st *state.State) {
		st.AppendDebate(state.RoleBull, "a1")
		st.AppendDebate(state.RoleBear, "a2")
	})
	assert.Equal(t, nodeBull, debateRouter(snap), "2 of 4 utterances, debate continues")

	snap = snapshotWith(func(st *state.State) {
		for i := 0; i < 2; i++ {
			st.AppendDebate(state.RoleBull, "a")
			st.AppendDebate(state.RoleBear, "b")
		}
	})
	assert.Equal(t, nodeManager, debateRouter(snap), "limit reached")
}

func TestRiskRouterLoopsUntilLimitOrEscalationCleared(t *testing.T) {
	oneRotation := func(st *state.State) {
		st.AppendRisk(state.RiskAggressive, "a")
		st.AppendRisk(state.RiskConservative, "c")
		st.AppendRisk(state.RiskNeutral, "n")
	}

	snap := snapshotWith(oneRotation)
	assert.Equal(t, nodeAggressive, riskRouter(snap), "1 of 2 rotations, keep looping")

	snap = snapshotWith(func(st *state.State) {
		oneRotation(st)
		oneRotation(st)
	})
	assert.Equal(t, nodePersistMemories, riskRouter(snap), "limit reached")

	snap = snapshotWith(func(st *state.State) {
		oneRotation(st)
		st.Meta.RiskEscalation = false
	})
	assert.Equal(t, nodePersistMemories, riskRouter(snap), "judge ended the loop early")
}

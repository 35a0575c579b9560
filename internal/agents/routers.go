package agents

import (
	"minerva/internal/agents/state"
	"minerva/internal/domain/run"
	"minerva/internal/graph"
)

// analystRouter decides after each analyst turn: pending tool calls go to the
// kind's tool-execution node, otherwise the thread is cleared and the
// pipeline moves on.
func analystRouter(kind run.AnalystKind) graph.RouterFunc {
	return func(snap state.Snapshot) string {
		if snap.PendingToolCalls() {
			return toolsNodeName(kind)
		}
		return msgClearNodeName(kind)
	}
}

// debateRouter runs after each utterance. The debate continues while fewer
// than 2*limit utterances exist (bull and bear alternate, bull opens);
// afterwards the research manager takes over.
func debateRouter(snap state.Snapshot) string {
	if len(snap.DebateHistory) == 0 {
		return nodeBull
	}
	if len(snap.DebateHistory) >= 2*snap.Meta.DebateRounds.Limit {
		return nodeManager
	}
	if last := snap.DebateHistory[len(snap.DebateHistory)-1]; last.Role == state.RoleBull {
		return nodeBear
	}
	return nodeBull
}

// riskRouter runs after each judge verdict. The rotation loops back to the
// aggressive debater until the round limit is reached or the judge has
// cleared the escalation flag.
func riskRouter(snap state.Snapshot) string {
	if !snap.Meta.RiskEscalation {
		return nodePersistMemories
	}
	if len(snap.RiskDebateHistory) >= 3*snap.Meta.RiskRounds.Limit {
		return nodePersistMemories
	}
	return nodeAggressive
}

package agents

import (
	"context"
	"strings"

	"minerva/internal/adapters/ai"
	"minerva/internal/agents/state"
	"minerva/internal/graph"
	"minerva/pkg/errors"
)

const (
	nodeAggressive   = "aggressive_risk"
	nodeConservative = "conservative_risk"
	nodeNeutral      = "neutral_risk"
	nodeRiskJudge    = "risk_judge"
)

func riskNodeName(persona state.RiskPersona) string {
	return string(persona) + "_risk"
}

// newRiskNode builds one persona of the risk rotation.
func newRiskNode(deps Deps, persona state.RiskPersona) graph.NodeFunc {
	return func(ctx context.Context, st *state.State) error {
		resp, err := deps.Invoker.Chat(ctx, ai.ChatRequest{
			Model: st.Meta.ModelID,
			Messages: []ai.Message{
				ai.SystemMessage(riskSystemPrompt(persona, st.Symbol)),
				ai.UserMessage(riskUserPrompt(st)),
			},
		})
		if err != nil {
			return errors.Wrapf(err, "%s risk debater", persona)
		}
		deps.logModelCall(ctx, st.Meta.RunID, riskNodeName(persona), resp.Usage)

		msg := resp.First()
		if msg.Content == "" {
			return errors.Wrapf(errors.ErrFatalNode, "%s risk debater returned an empty argument", persona)
		}
		st.AppendRisk(persona, msg.Content)
		return nil
	}
}

// newRiskJudgeNode reviews each completed rotation. It always refreshes the
// final decision (the last verdict wins) and may clear the escalation flag to
// end the rotation before the round limit.
func newRiskJudgeNode(deps Deps) graph.NodeFunc {
	return func(ctx context.Context, st *state.State) error {
		resp, err := deps.Invoker.Chat(ctx, ai.ChatRequest{
			Model:    st.Meta.ModelID,
			Messages: []ai.Message{ai.UserMessage(judgePrompt(st))},
		})
		if err != nil {
			return errors.Wrap(err, "risk judge")
		}
		deps.logModelCall(ctx, st.Meta.RunID, nodeRiskJudge, resp.Usage)

		msg := resp.First()
		if msg.Content == "" {
			return errors.Wrap(errors.ErrFatalNode, "risk judge returned an empty decision")
		}

		decision := msg.Content
		if strings.Contains(decision, escalationClearMarker) {
			st.Meta.RiskEscalation = false
			decision = strings.TrimSpace(strings.ReplaceAll(decision, escalationClearMarker, ""))
		}
		// A reply that was only the marker strips down to nothing; a run must
		// never finish without a verdict.
		if decision == "" {
			return errors.Wrap(errors.ErrFatalNode, "risk judge returned only the escalation marker")
		}
		st.FinalDecision = decision
		return nil
	}
}

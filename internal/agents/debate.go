package agents

import (
	"context"

	"minerva/internal/adapters/ai"
	"minerva/internal/agents/state"
	"minerva/internal/graph"
	"minerva/pkg/errors"
)

const (
	nodeBull    = "bull_researcher"
	nodeBear    = "bear_researcher"
	nodeManager = "research_manager"
	nodeTrader  = "trader"
)

// newDebateNode builds one side of the investment debate. Each invocation
// contributes a single utterance; round accounting lives in the state.
func newDebateNode(deps Deps, role state.DebateRole) graph.NodeFunc {
	return func(ctx context.Context, st *state.State) error {
		resp, err := deps.Invoker.Chat(ctx, ai.ChatRequest{
			Model: st.Meta.ModelID,
			Messages: []ai.Message{
				ai.SystemMessage(debateSystemPrompt(role, st.Symbol)),
				ai.UserMessage(debateUserPrompt(st, role)),
			},
		})
		if err != nil {
			return errors.Wrapf(err, "%s researcher", role)
		}
		deps.logModelCall(ctx, st.Meta.RunID, string(role)+"_researcher", resp.Usage)

		msg := resp.First()
		if msg.Content == "" {
			return errors.Wrapf(errors.ErrFatalNode, "%s researcher returned an empty argument", role)
		}
		st.AppendDebate(role, msg.Content)
		return nil
	}
}

// newManagerNode condenses the debate into the investment plan.
func newManagerNode(deps Deps) graph.NodeFunc {
	return func(ctx context.Context, st *state.State) error {
		resp, err := deps.Invoker.Chat(ctx, ai.ChatRequest{
			Model:    st.Meta.ModelID,
			Messages: []ai.Message{ai.UserMessage(managerPrompt(st))},
		})
		if err != nil {
			return errors.Wrap(err, "research manager")
		}
		deps.logModelCall(ctx, st.Meta.RunID, nodeManager, resp.Usage)

		msg := resp.First()
		if msg.Content == "" {
			return errors.Wrap(errors.ErrFatalNode, "research manager returned an empty plan")
		}
		st.InvestmentPlan = msg.Content
		return nil
	}
}

// newTraderNode turns the investment plan into a concrete trade proposal.
func newTraderNode(deps Deps) graph.NodeFunc {
	return func(ctx context.Context, st *state.State) error {
		resp, err := deps.Invoker.Chat(ctx, ai.ChatRequest{
			Model:    st.Meta.ModelID,
			Messages: []ai.Message{ai.UserMessage(traderPrompt(st))},
		})
		if err != nil {
			return errors.Wrap(err, "trader")
		}
		deps.logModelCall(ctx, st.Meta.RunID, nodeTrader, resp.Usage)

		msg := resp.First()
		if msg.Content == "" {
			return errors.Wrap(errors.ErrFatalNode, "trader returned an empty proposal")
		}
		st.TraderPlan = msg.Content
		return nil
	}
}

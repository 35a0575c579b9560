package agents

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"minerva/internal/agents/state"
	"minerva/internal/domain/memory"
	"minerva/internal/domain/run"
)

const escalationClearMarker = "NO_ESCALATION"

var analystPersonas = map[run.AnalystKind]string{
	run.AnalystMarket: "You are a market analyst. Study price action, volume, and " +
		"technical indicators to assess the current trading setup.",
	run.AnalystSocial: "You are a social media analyst. Gauge retail sentiment, " +
		"chatter volume, and narrative shifts around the company.",
	run.AnalystNews: "You are a news analyst. Evaluate recent headlines, macro " +
		"events, and company announcements for tradeable information.",
	run.AnalystFundamentals: "You are a fundamentals analyst. Review financial " +
		"statements, company profile, dividends, and corporate actions.",
}

func analystSystemPrompt(kind run.AnalystKind, symbol, tradeDate string) string {
	var b strings.Builder
	b.WriteString(analystPersonas[kind])
	fmt.Fprintf(&b, "\n\nTarget: %s as of %s.\n", symbol, tradeDate)
	b.WriteString("Call the available tools to gather data before concluding. " +
		"When you have enough evidence, reply with your full report and no further tool calls.")
	return b.String()
}

func analystUserPrompt(st *state.State, kind run.AnalystKind) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Produce your %s report for %s (trade date %s).\n", kind, st.Symbol, st.TradeDate)

	if others := formatReports(st.Reports, kind); others != "" {
		b.WriteString("\nReports from other analysts so far:\n")
		b.WriteString(others)
	}
	if mems := formatMemories(st.Meta.Memories[string(kind)+"_analyst"]); mems != "" {
		b.WriteString("\nLessons from past runs:\n")
		b.WriteString(mems)
	}

	return b.String()
}

func debateSystemPrompt(role state.DebateRole, symbol string) string {
	if role == state.RoleBull {
		return fmt.Sprintf("You are the bull researcher arguing FOR investing in %s. "+
			"Rebut the bear's latest points with evidence from the analyst reports.", symbol)
	}
	return fmt.Sprintf("You are the bear researcher arguing AGAINST investing in %s. "+
		"Rebut the bull's latest points with evidence from the analyst reports.", symbol)
}

func debateUserPrompt(st *state.State, role state.DebateRole) string {
	var b strings.Builder
	b.WriteString("Analyst reports:\n")
	b.WriteString(formatReports(st.Reports, ""))

	if len(st.DebateHistory) > 0 {
		b.WriteString("\nDebate so far:\n")
		for _, turn := range st.DebateHistory {
			fmt.Fprintf(&b, "[round %d, %s] %s\n", turn.Round, turn.Role, turn.Content)
		}
	}
	if mems := formatMemories(st.Meta.Memories[string(role)]); mems != "" {
		b.WriteString("\nLessons from past runs:\n")
		b.WriteString(mems)
	}

	b.WriteString("\nMake your next argument.")
	return b.String()
}

func managerPrompt(st *state.State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are the research manager for %s. Weigh the bull and bear "+
		"arguments and write a decisive investment plan: position, sizing rationale, "+
		"and the conditions that would change your mind.\n\n", st.Symbol)

	b.WriteString("Analyst reports:\n")
	b.WriteString(formatReports(st.Reports, ""))
	b.WriteString("\nFull debate transcript:\n")
	for _, turn := range st.DebateHistory {
		fmt.Fprintf(&b, "[round %d, %s] %s\n", turn.Round, turn.Role, turn.Content)
	}

	return b.String()
}

func traderPrompt(st *state.State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are the trader executing on %s. Turn the investment plan "+
		"into a concrete trade proposal: direction, entry, size, stop, and horizon.\n\n", st.Symbol)
	b.WriteString("Investment plan:\n")
	b.WriteString(st.InvestmentPlan)

	if mems := formatMemories(st.Meta.Memories["trader"]); mems != "" {
		b.WriteString("\n\nLessons from past runs:\n")
		b.WriteString(mems)
	}

	return b.String()
}

var riskPersonaPrompts = map[state.RiskPersona]string{
	state.RiskAggressive: "You argue for taking MORE risk: attack overly cautious " +
		"assumptions and highlight upside the plan leaves on the table.",
	state.RiskConservative: "You argue for taking LESS risk: expose tail risks, " +
		"liquidity traps, and drawdown scenarios the plan underweights.",
	state.RiskNeutral: "You weigh both sides dispassionately and point out where " +
		"each risk argument overreaches.",
}

func riskSystemPrompt(persona state.RiskPersona, symbol string) string {
	return fmt.Sprintf("You are the %s risk debater reviewing the proposed trade on %s. %s",
		persona, symbol, riskPersonaPrompts[persona])
}

func riskUserPrompt(st *state.State) string {
	var b strings.Builder
	b.WriteString("Trade proposal:\n")
	b.WriteString(st.TraderPlan)

	if len(st.RiskDebateHistory) > 0 {
		b.WriteString("\n\nRisk debate so far:\n")
		for _, turn := range st.RiskDebateHistory {
			fmt.Fprintf(&b, "[round %d, %s] %s\n", turn.Round, turn.Persona, turn.Content)
		}
	}

	b.WriteString("\nMake your next argument.")
	return b.String()
}

func judgePrompt(st *state.State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are the risk judge for %s. Review the trade proposal and the "+
		"risk debate, then issue the FINAL decision: BUY, SELL, or HOLD, with sizing "+
		"and the binding risk constraints.\n\n", st.Symbol)
	b.WriteString("Trade proposal:\n")
	b.WriteString(st.TraderPlan)
	b.WriteString("\n\nRisk debate:\n")
	for _, turn := range st.RiskDebateHistory {
		fmt.Fprintf(&b, "[round %d, %s] %s\n", turn.Round, turn.Persona, turn.Content)
	}
	fmt.Fprintf(&b, "\nIf the debate has fully converged and no further rotation would "+
		"change your decision, include the literal token %s in your reply.", escalationClearMarker)

	if mems := formatMemories(st.Meta.Memories["risk_judge"]); mems != "" {
		b.WriteString("\n\nLessons from past runs:\n")
		b.WriteString(mems)
	}

	return b.String()
}

// formatReports renders all reports except the one owned by skip.
func formatReports(reports map[run.AnalystKind]string, skip run.AnalystKind) string {
	var b strings.Builder
	for _, kind := range run.AllAnalysts {
		if kind == skip {
			continue
		}
		if text, ok := reports[kind]; ok && text != "" {
			fmt.Fprintf(&b, "--- %s ---\n%s\n", kind, text)
		}
	}
	return b.String()
}

func formatMemories(mems []*memory.Memory) string {
	if len(mems) == 0 {
		return ""
	}
	var b strings.Builder
	for _, m := range mems {
		fmt.Fprintf(&b, "- (%s, %s) %s\n", m.Symbol, humanize.Time(m.CreatedAt), m.Content)
	}
	return b.String()
}

package state

import (
	"minerva/internal/adapters/ai"
	"minerva/internal/domain/run"
)

// Snapshot is an immutable copy of the state taken before progress events are
// published, so observers never see a half-updated record.
type Snapshot struct {
	Symbol            string
	TradeDate         string
	Reports           map[run.AnalystKind]string
	ThreadMessages    []ai.Message
	DebateHistory     []DebateTurn
	RiskDebateHistory []RiskTurn
	InvestmentPlan    string
	TraderPlan        string
	FinalDecision     string
	Meta              Metadata
}

// Snapshot deep-copies the slices and maps a router or observer may inspect.
func (s *State) Snapshot() Snapshot {
	reports := make(map[run.AnalystKind]string, len(s.Reports))
	for k, v := range s.Reports {
		reports[k] = v
	}

	snap := Snapshot{
		Symbol:         s.Symbol,
		TradeDate:      s.TradeDate,
		Reports:        reports,
		InvestmentPlan: s.InvestmentPlan,
		TraderPlan:     s.TraderPlan,
		FinalDecision:  s.FinalDecision,
		Meta:           s.Meta,
	}

	snap.ThreadMessages = append([]ai.Message(nil), s.ThreadMessages...)
	snap.DebateHistory = append([]DebateTurn(nil), s.DebateHistory...)
	snap.RiskDebateHistory = append([]RiskTurn(nil), s.RiskDebateHistory...)
	snap.Meta.Memories = nil // snapshots are for routing and events, not prompts

	return snap
}

// LastThreadMessage returns the most recent thread message, if any
func (s Snapshot) LastThreadMessage() (ai.Message, bool) {
	if len(s.ThreadMessages) == 0 {
		return ai.Message{}, false
	}
	return s.ThreadMessages[len(s.ThreadMessages)-1], true
}

// PendingToolCalls reports whether the latest message requests tools
func (s Snapshot) PendingToolCalls() bool {
	last, ok := s.LastThreadMessage()
	return ok && last.Role == ai.RoleAssistant && last.HasToolCalls()
}

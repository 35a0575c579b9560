// Package state holds the single mutable record threaded through every node
// of the agent graph. A node is the sole writer while it executes, so no
// locking is needed; observers receive deep-copied snapshots.
package state

import (
	"time"

	"github.com/google/uuid"

	"minerva/internal/adapters/ai"
	"minerva/internal/domain/memory"
	"minerva/internal/domain/run"
)

// DebateRole identifies an investment debate speaker
type DebateRole string

const (
	RoleBull DebateRole = "bull"
	RoleBear DebateRole = "bear"
)

// RiskPersona identifies a risk debate speaker
type RiskPersona string

const (
	RiskAggressive   RiskPersona = "aggressive"
	RiskConservative RiskPersona = "conservative"
	RiskNeutral      RiskPersona = "neutral"
)

// DebateTurn is one bull or bear utterance
type DebateTurn struct {
	Role    DebateRole `json:"role"`
	Round   int        `json:"round"`
	Content string     `json:"content"`
}

// RiskTurn is one risk-persona utterance
type RiskTurn struct {
	Persona RiskPersona `json:"persona"`
	Round   int         `json:"round"`
	Content string      `json:"content"`
}

// ToolResult is a transient tool outcome awaiting consumption by the next node
type ToolResult struct {
	CallID      string `json:"call_id"`
	Tool        string `json:"tool"`
	Payload     string `json:"payload"`
	Fingerprint string `json:"fingerprint"`
	Source      string `json:"source"`
}

// Rounds tracks a bounded loop counter
type Rounds struct {
	Current int `json:"current"`
	Limit   int `json:"limit"`
}

// Metadata carries run-scoped counters and context
type Metadata struct {
	RunID          uuid.UUID                   `json:"run_id"`
	AgentVersion   string                      `json:"agent_version"`
	ModelID        string                      `json:"model_id"`
	RunStartedAt   time.Time                   `json:"run_started_at"`
	DebateRounds   Rounds                      `json:"debate_rounds"`
	RiskRounds     Rounds                      `json:"risk_rounds"`
	RiskEscalation bool                        `json:"risk_escalation"`
	Memories       map[string][]*memory.Memory `json:"-"`
	PromptIDs      []string                    `json:"prompt_ids"`
}

// State is the shared agent state for one run.
type State struct {
	Symbol    string
	TradeDate string

	Reports           map[run.AnalystKind]string
	ThreadMessages    []ai.Message
	DebateHistory     []DebateTurn
	RiskDebateHistory []RiskTurn
	InvestmentPlan    string
	TraderPlan        string
	FinalDecision     string
	ToolScratchpad    []ToolResult
	Meta              Metadata
}

// New creates the initial state for a run: empty reports, zero counters,
// escalation armed.
func New(runID uuid.UUID, cfg run.Config) *State {
	return &State{
		Symbol:    cfg.Symbol,
		TradeDate: cfg.TradeDate,
		Reports:   make(map[run.AnalystKind]string, len(cfg.SelectedAnalysts)),
		Meta: Metadata{
			RunID:          runID,
			AgentVersion:   cfg.AgentVersion,
			ModelID:        cfg.ModelID,
			RunStartedAt:   time.Now(),
			DebateRounds:   Rounds{Limit: cfg.DebateRounds},
			RiskRounds:     Rounds{Limit: cfg.RiskRounds},
			RiskEscalation: true,
			Memories:       make(map[string][]*memory.Memory),
		},
	}
}

// SetReport overwrites the report slot owned by kind
func (s *State) SetReport(kind run.AnalystKind, text string) {
	s.Reports[kind] = text
}

// AppendThread appends a chat message visible to the active node
func (s *State) AppendThread(msg ai.Message) {
	s.ThreadMessages = append(s.ThreadMessages, msg)
}

// LastThreadMessage returns the most recent thread message, if any
func (s *State) LastThreadMessage() (ai.Message, bool) {
	if len(s.ThreadMessages) == 0 {
		return ai.Message{}, false
	}
	return s.ThreadMessages[len(s.ThreadMessages)-1], true
}

// ClearThread empties the message thread between analyst loops
func (s *State) ClearThread() {
	s.ThreadMessages = nil
}

// AppendDebate records a debate utterance; the round number is derived from
// the utterance count (bull + bear = one round).
func (s *State) AppendDebate(role DebateRole, content string) {
	turn := DebateTurn{
		Role:    role,
		Round:   len(s.DebateHistory)/2 + 1,
		Content: content,
	}
	s.DebateHistory = append(s.DebateHistory, turn)

	if len(s.DebateHistory)%2 == 0 {
		s.Meta.DebateRounds.Current++
	}
}

// AppendRisk records a risk utterance; one full aggressive/conservative/
// neutral rotation counts as a round.
func (s *State) AppendRisk(persona RiskPersona, content string) {
	turn := RiskTurn{
		Persona: persona,
		Round:   len(s.RiskDebateHistory)/3 + 1,
		Content: content,
	}
	s.RiskDebateHistory = append(s.RiskDebateHistory, turn)

	if len(s.RiskDebateHistory)%3 == 0 {
		s.Meta.RiskRounds.Current++
	}
}

// AddToolResult stages a tool outcome for the next node
func (s *State) AddToolResult(res ToolResult) {
	s.ToolScratchpad = append(s.ToolScratchpad, res)
}

// DrainScratchpad returns and clears pending tool results. Nodes that read
// the scratchpad must drain it before returning.
func (s *State) DrainScratchpad() []ToolResult {
	out := s.ToolScratchpad
	s.ToolScratchpad = nil
	return out
}

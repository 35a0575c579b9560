// Package run defines the orchestrator's core domain records: analysis runs,
// their configuration snapshots, and persisted decisions.
package run

import (
	"time"

	"github.com/google/uuid"
)

// Status is the run lifecycle state. Transitions are
// pending → running → (complete | failed); terminal states never change.
type Status string

const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// AnalystKind identifies one of the four analyst personas. Each kind owns a
// report slot and a dedicated tool-execution node.
type AnalystKind string

const (
	AnalystMarket       AnalystKind = "market"
	AnalystSocial       AnalystKind = "social"
	AnalystNews         AnalystKind = "news"
	AnalystFundamentals AnalystKind = "fundamentals"
)

// AllAnalysts is the default selection, in pipeline order.
var AllAnalysts = []AnalystKind{AnalystMarket, AnalystSocial, AnalystNews, AnalystFundamentals}

// ValidAnalyst reports whether k names a known analyst kind.
func ValidAnalyst(k AnalystKind) bool {
	for _, a := range AllAnalysts {
		if a == k {
			return true
		}
	}
	return false
}

// Config is the immutable configuration snapshot taken at run start.
type Config struct {
	Symbol           string        `json:"symbol"`
	TradeDate        string        `json:"trade_date"` // ISO-8601 date
	ModelID          string        `json:"model_id"`
	SelectedAnalysts []AnalystKind `json:"selected_analysts"`
	DebateRounds     int           `json:"debate_rounds"`
	RiskRounds       int           `json:"risk_rounds"`
	AgentVersion     string        `json:"agent_version"`
}

// Run is the in-memory record tracked by the registry for the lifetime of a
// background analysis run.
type Run struct {
	ID          uuid.UUID `json:"run_id"`
	Config      Config    `json:"config"`
	Status      Status    `json:"status"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
	Decision    *Decision `json:"decision,omitempty"`
	Error       string    `json:"error,omitempty"`
	CacheHit    bool      `json:"cache_hit,omitempty"`
}

// Decision is the persisted outcome of a completed run.
type Decision struct {
	RunID            uuid.UUID              `json:"run_id"`
	Symbol           string                 `json:"symbol"`
	TradeDate        string                 `json:"trade_date"`
	ModelID          string                 `json:"model_id"`
	AgentVersion     string                 `json:"agent_version"`
	Reports          map[AnalystKind]string `json:"reports"`
	InvestmentPlan   string                 `json:"investment_plan"`
	TraderPlan       string                 `json:"trader_plan"`
	FinalDecision    string                 `json:"final_decision"`
	InputFingerprint string                 `json:"input_fingerprint"`
	CreatedAt        time.Time              `json:"created_at"`
}

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"minerva/internal/domain/run"
	"minerva/pkg/errors"
)

func sampleDecision() *run.Decision {
	return &run.Decision{
		RunID:            uuid.New(),
		Symbol:           "AAPL",
		TradeDate:        "2026-08-25",
		ModelID:          "gpt-4o",
		AgentVersion:     "v1",
		FinalDecision:    "BUY",
		InputFingerprint: "abc123",
		CreatedAt:        time.Now().UTC().Truncate(time.Second),
	}
}

func TestPutThenGetRoundTrips(t *testing.T) {
	c := New(NewMemoryStore(), time.Hour)
	decision := sampleDecision()

	require.NoError(t, c.Put(context.Background(), decision))

	got, err := c.Get(context.Background(), "v1", "AAPL", "abc123")
	require.NoError(t, err)
	assert.Equal(t, decision.FinalDecision, got.FinalDecision)
	assert.Equal(t, decision.RunID, got.RunID)
}

func TestGetMissReturnsNotFound(t *testing.T) {
	c := New(NewMemoryStore(), time.Hour)

	_, err := c.Get(context.Background(), "v1", "AAPL", "missing")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestEntryExpiresAfterTTL(t *testing.T) {
	c := New(NewMemoryStore(), 5*time.Millisecond)
	require.NoError(t, c.Put(context.Background(), sampleDecision()))

	_, err := c.Get(context.Background(), "v1", "AAPL", "abc123")
	require.NoError(t, err, "inside the TTL the entry is served")

	time.Sleep(10 * time.Millisecond)
	_, err = c.Get(context.Background(), "v1", "AAPL", "abc123")
	assert.True(t, errors.Is(err, errors.ErrNotFound), "past the TTL the entry is gone")
}

func TestInvalidateSymbolRemovesOnlyThatSymbol(t *testing.T) {
	c := New(NewMemoryStore(), time.Hour)

	aapl := sampleDecision()
	msft := sampleDecision()
	msft.Symbol = "MSFT"
	msft.InputFingerprint = "def456"
	require.NoError(t, c.Put(context.Background(), aapl))
	require.NoError(t, c.Put(context.Background(), msft))

	require.NoError(t, c.InvalidateSymbol(context.Background(), "v1", "AAPL"))

	_, err := c.Get(context.Background(), "v1", "AAPL", "abc123")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
	_, err = c.Get(context.Background(), "v1", "MSFT", "def456")
	assert.NoError(t, err)
}

func TestAgentVersionSaltsTheKey(t *testing.T) {
	c := New(NewMemoryStore(), time.Hour)
	require.NoError(t, c.Put(context.Background(), sampleDecision()))

	_, err := c.Get(context.Background(), "v2", "AAPL", "abc123")
	assert.True(t, errors.Is(err, errors.ErrNotFound), "bumping agent_version invalidates")
}

func TestInputFingerprintIgnoresAnalystOrder(t *testing.T) {
	base := run.Config{
		Symbol:           "AAPL",
		TradeDate:        "2026-08-25",
		ModelID:          "gpt-4o",
		AgentVersion:     "v1",
		DebateRounds:     2,
		RiskRounds:       1,
		SelectedAnalysts: []run.AnalystKind{run.AnalystMarket, run.AnalystNews},
	}
	reordered := base
	reordered.SelectedAnalysts = []run.AnalystKind{run.AnalystNews, run.AnalystMarket}

	fp1, err := InputFingerprint(base)
	require.NoError(t, err)
	fp2, err := InputFingerprint(reordered)
	require.NoError(t, err)
	assert.Equal(t, fp1, fp2)

	changed := base
	changed.ModelID = "grok-2"
	fp3, err := InputFingerprint(changed)
	require.NoError(t, err)
	assert.NotEqual(t, fp1, fp3)
}

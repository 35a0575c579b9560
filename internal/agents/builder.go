package agents

import (
	"time"

	"minerva/internal/agents/state"
	"minerva/internal/domain/run"
	"minerva/internal/graph"
	"minerva/internal/progress"
	"minerva/pkg/errors"
)

const (
	memoryNodeTimeout = 60 * time.Second
	analystTimeout    = 600 * time.Second
	toolsNodeTimeout  = 300 * time.Second
	debateTimeout     = 300 * time.Second
	judgeTimeout      = 3600 * time.Second
)

// BuildGraph wires the full decision topology for one run: memory load, the
// selected analyst loops in canonical order, the bull/bear debate, research
// manager, trader, the risk rotation with its judge, and memory persistence.
func BuildGraph(deps Deps, cfg run.Config) (*graph.Graph, error) {
	selected := orderAnalysts(cfg.SelectedAnalysts)
	if len(selected) == 0 {
		return nil, errors.Wrap(errors.ErrInvalidInput, "no analysts selected")
	}

	g := graph.New()

	add := func(name string, stage progress.Stage, percent float64, timeout time.Duration, fn graph.NodeFunc) error {
		return g.AddNode(graph.Node{
			Name:    name,
			Stage:   stage,
			Label:   name,
			Percent: percent,
			Timeout: timeout,
			Run:     fn,
		})
	}

	if err := add(nodeLoadMemories, progress.StageAnalysts, 2, memoryNodeTimeout, newLoadMemoriesNode(deps, selected)); err != nil {
		return nil, err
	}

	// Analysts spread the 5-55% band evenly.
	for i, kind := range selected {
		percent := analystPercent(i, len(selected))
		if err := add(analystNodeName(kind), progress.StageAnalysts, percent, analystTimeout, newAnalystNode(deps, kind)); err != nil {
			return nil, err
		}
		if err := add(toolsNodeName(kind), progress.StageAnalysts, percent, toolsNodeTimeout, newToolExecNode(deps, kind)); err != nil {
			return nil, err
		}
		if err := add(msgClearNodeName(kind), progress.StageAnalysts, percent, memoryNodeTimeout, newMsgClearNode()); err != nil {
			return nil, err
		}
	}

	if err := add(nodeBull, progress.StageDebate, 58, debateTimeout, newDebateNode(deps, state.RoleBull)); err != nil {
		return nil, err
	}
	if err := add(nodeBear, progress.StageDebate, 63, debateTimeout, newDebateNode(deps, state.RoleBear)); err != nil {
		return nil, err
	}
	if err := add(nodeManager, progress.StageManager, 75, debateTimeout, newManagerNode(deps)); err != nil {
		return nil, err
	}
	if err := add(nodeTrader, progress.StageTrader, 82, debateTimeout, newTraderNode(deps)); err != nil {
		return nil, err
	}

	riskPercents := map[string]float64{nodeAggressive: 84, nodeConservative: 88, nodeNeutral: 92}
	rotation := []state.RiskPersona{state.RiskAggressive, state.RiskConservative, state.RiskNeutral}
	for _, persona := range rotation {
		name := riskNodeName(persona)
		if err := add(name, progress.StageRisk, riskPercents[name], debateTimeout, newRiskNode(deps, persona)); err != nil {
			return nil, err
		}
	}
	if err := add(nodeRiskJudge, progress.StageRisk, 96, judgeTimeout, newRiskJudgeNode(deps)); err != nil {
		return nil, err
	}
	if err := add(nodePersistMemories, progress.StageRisk, 98, memoryNodeTimeout, newPersistMemoriesNode(deps)); err != nil {
		return nil, err
	}

	if err := g.AddEdge(graph.Start, nodeLoadMemories); err != nil {
		return nil, err
	}
	if err := g.AddEdge(nodeLoadMemories, analystNodeName(selected[0])); err != nil {
		return nil, err
	}

	for i, kind := range selected {
		if err := g.AddConditionalEdge(analystNodeName(kind), analystRouter(kind)); err != nil {
			return nil, err
		}
		if err := g.AddEdge(toolsNodeName(kind), analystNodeName(kind)); err != nil {
			return nil, err
		}

		next := nodeBull
		if i+1 < len(selected) {
			next = analystNodeName(selected[i+1])
		}
		if err := g.AddEdge(msgClearNodeName(kind), next); err != nil {
			return nil, err
		}
	}

	if err := g.AddConditionalEdge(nodeBull, debateRouter); err != nil {
		return nil, err
	}
	if err := g.AddConditionalEdge(nodeBear, debateRouter); err != nil {
		return nil, err
	}
	if err := g.AddEdge(nodeManager, nodeTrader); err != nil {
		return nil, err
	}
	if err := g.AddEdge(nodeTrader, nodeAggressive); err != nil {
		return nil, err
	}
	if err := g.AddEdge(nodeAggressive, nodeConservative); err != nil {
		return nil, err
	}
	if err := g.AddEdge(nodeConservative, nodeNeutral); err != nil {
		return nil, err
	}
	if err := g.AddEdge(nodeNeutral, nodeRiskJudge); err != nil {
		return nil, err
	}
	if err := g.AddConditionalEdge(nodeRiskJudge, riskRouter); err != nil {
		return nil, err
	}
	if err := g.AddEdge(nodePersistMemories, graph.End); err != nil {
		return nil, err
	}

	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// orderAnalysts filters and orders the selection canonically:
// market, social, news, fundamentals.
func orderAnalysts(selected []run.AnalystKind) []run.AnalystKind {
	want := make(map[run.AnalystKind]bool, len(selected))
	for _, kind := range selected {
		want[kind] = true
	}

	ordered := make([]run.AnalystKind, 0, len(want))
	for _, kind := range run.AllAnalysts {
		if want[kind] {
			ordered = append(ordered, kind)
		}
	}
	return ordered
}

func analystPercent(i, n int) float64 {
	return 5 + float64(i)*50/float64(n)
}

package orchestration

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"claimpilot/internal/checkpoint"
)

// Node names. These appear in logs and in checkpoint debugging, so they
// stay stable even when the wiring changes.
const (
	nodeLoadWorldSnapshot    = "load_world_snapshot"
	nodeBuildAnchorLane      = "build_anchor_lane"
	nodeMemoryRetrieve       = "memory_retrieve"
	nodeRetrieveEvidencePack = "retrieve_evidence_pack"
	nodeContextCompiler      = "context_compiler"
	nodePlanner              = "planner"
	nodeToolExecutor         = "tool_executor"
	nodeGateEvaluator        = "gate_evaluator"
	nodeHumanGate            = "human_gate"
	nodeSummarizer           = "summarizer"
	nodeFinalizer            = "finalizer"
	nodeEnd                  = ""
)

type nodeFunc func(ctx context.Context, s State) (State, error)

// Graph wires the turn's nodes into a sequential state machine. Nodes run
// one at a time; after each node the full state is snapshotted to the
// checkpoint store for durability and inspection. A new turn on the same
// thread restores only the transcript from the latest snapshot.
type Graph struct {
	lanes       *Lanes
	planner     *Planner
	executor    *Executor
	gate        *Gate
	checkpoints *checkpoint.Store
	logger      *zap.Logger

	nodes map[string]nodeFunc
}

// NewGraph assembles the turn state machine.
func NewGraph(lanes *Lanes, planner *Planner, executor *Executor, gate *Gate, checkpoints *checkpoint.Store, logger *zap.Logger) *Graph {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Graph{
		lanes:       lanes,
		planner:     planner,
		executor:    executor,
		gate:        gate,
		checkpoints: checkpoints,
		logger:      logger,
	}
	g.nodes = map[string]nodeFunc{
		nodeLoadWorldSnapshot:    lanes.LoadWorldSnapshot,
		nodeBuildAnchorLane:      lanes.BuildAnchorLane,
		nodeMemoryRetrieve:       lanes.RetrieveMemory,
		nodeRetrieveEvidencePack: lanes.RetrieveEvidencePack,
		nodeContextCompiler:      pure(CompileContext),
		nodePlanner:              planner.Plan,
		nodeToolExecutor:         executor.ExecuteNext,
		nodeGateEvaluator:        gate.Evaluate,
		nodeHumanGate:            pure(HumanGate),
		nodeSummarizer:           pure(Summarize),
		nodeFinalizer:            pure(Finalize),
	}
	return g
}

// pure lifts a side-effect-free node into the nodeFunc shape.
func pure(fn func(State) State) nodeFunc {
	return func(_ context.Context, s State) (State, error) {
		return fn(s), nil
	}
}

// Run executes one full turn starting from the world snapshot node and
// returns the finalized state. A node error does not escape the turn: it is
// recorded on the state and the turn is routed to summarization so every
// turn still ends with a terminal payload.
func (g *Graph) Run(ctx context.Context, s State) (State, error) {
	node := nodeLoadWorldSnapshot
	for node != nodeEnd {
		fn, ok := g.nodes[node]
		if !ok {
			return s, fmt.Errorf("orchestration: unknown node %q", node)
		}

		next, err := fn(ctx, s)
		if err != nil {
			g.logger.Error("node failed", zap.String("node", node), zap.Error(err))
			s.Errors = append(s.Errors, err.Error())
			s.StopReason = StopError
			s.ExitRequested = true
			s = g.checkpointState(ctx, s, node)
			node = nodeSummarizer
			continue
		}
		s = g.checkpointState(ctx, next, node)
		node = g.route(node, s)
	}
	return s, nil
}

// route picks the next node. The context lanes run in a fixed order; the
// planner forks to execution or gating; the gate decides between looping,
// human review, and termination.
func (g *Graph) route(node string, s State) string {
	switch node {
	case nodeLoadWorldSnapshot:
		return nodeBuildAnchorLane
	case nodeBuildAnchorLane:
		return nodeMemoryRetrieve
	case nodeMemoryRetrieve:
		return nodeRetrieveEvidencePack
	case nodeRetrieveEvidencePack:
		return nodeContextCompiler
	case nodeContextCompiler:
		return nodePlanner
	case nodePlanner:
		if len(s.ToolQueue) > 0 {
			return nodeToolExecutor
		}
		return nodeGateEvaluator
	case nodeToolExecutor:
		return nodeGateEvaluator
	case nodeGateEvaluator:
		switch {
		case s.ExitRequested && (s.StopReason == StopError || s.StopReason == StopMaxSteps):
			return nodeSummarizer
		case s.Blocked || s.StopReason == StopAskUser:
			return nodeHumanGate
		case s.ExitRequested:
			return nodeSummarizer
		default:
			// Fresh planning pass over the post-tool world.
			return nodeLoadWorldSnapshot
		}
	case nodeHumanGate:
		return nodeSummarizer
	case nodeSummarizer:
		return nodeFinalizer
	case nodeFinalizer:
		return nodeEnd
	}
	return nodeEnd
}

// checkpointState persists the state after a node completes. Checkpoint
// write failures are logged, never fatal: losing a resume point should not
// kill a live turn.
func (g *Graph) checkpointState(ctx context.Context, s State, node string) State {
	if g.checkpoints == nil {
		return s
	}
	data, err := json.Marshal(s)
	if err != nil {
		g.logger.Warn("failed to serialize checkpoint", zap.String("node", node), zap.Error(err))
		return s
	}
	if err := g.checkpoints.Put(ctx, s.ThreadID, data); err != nil {
		g.logger.Warn("failed to write checkpoint", zap.String("node", node), zap.Error(err))
	}
	return s
}

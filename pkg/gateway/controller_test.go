package gateway

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/tokenflow/pkg/condition"
	"github.com/dukex/tokenflow/pkg/models"
	"github.com/dukex/tokenflow/pkg/testutil"
	"github.com/dukex/tokenflow/pkg/token"
)

func newController() (*Controller, *token.Manager) {
	logger := slog.Default()
	tokens := token.NewManager(logger)

	return NewController(tokens, condition.NewEvaluator(logger), logger), tokens
}

func exclusiveDefinition() *models.WorkflowDefinition {
	return testutil.NewBuilder("wf-xor", "exclusive workflow").
		Node("start", models.NodeTypeStart, nil).
		Node("gw", models.NodeTypeExclusiveGateway, nil).
		Node("high", models.NodeTypeTask, nil).
		Node("mid", models.NodeTypeTask, nil).
		Node("fallback", models.NodeTypeTask, nil).
		Node("end", models.NodeTypeEnd, nil).
		ConnectIf("gw", "high", "amount > 100").
		ConnectIf("gw", "mid", "amount > 50").
		ConnectDefault("gw", "fallback").
		Connect("start", "gw").
		Connect("high", "end").
		Connect("mid", "end").
		Connect("fallback", "end").
		Build()
}

func instanceWith(vars map[string]any) *models.ProcessInstance {
	return &models.ProcessInstance{ID: "inst-1", WorkflowID: "wf", ProcessData: vars}
}

func TestExclusive_FirstTrueInDeclaredOrderWins(t *testing.T) {
	c, tokens := newController()
	def := exclusiveDefinition()
	gw := def.FindNode("gw")

	// Both conditions are true; the first declared connection wins.
	tok := tokens.CreateInitialToken("inst-1", "gw")
	result, err := c.Process(context.Background(), gw, tok, def, instanceWith(map[string]any{"amount": 200}))
	require.NoError(t, err)

	assert.Equal(t, OutcomeContinued, result.Outcome)
	assert.Equal(t, "high", result.Tokens[0].Position)
}

func TestExclusive_DefaultUsedOnlyIfNoneTrue(t *testing.T) {
	c, tokens := newController()
	def := exclusiveDefinition()
	gw := def.FindNode("gw")

	tok := tokens.CreateInitialToken("inst-1", "gw")
	result, err := c.Process(context.Background(), gw, tok, def, instanceWith(map[string]any{"amount": 10}))
	require.NoError(t, err)

	assert.Equal(t, "fallback", result.Tokens[0].Position)
}

func TestExclusive_NoMatchAndNoDefaultFails(t *testing.T) {
	c, tokens := newController()

	def := testutil.NewBuilder("wf", "no default").
		Node("gw", models.NodeTypeExclusiveGateway, nil).
		Node("a", models.NodeTypeTask, nil).
		ConnectIf("gw", "a", "x > 10").
		Build()

	tok := tokens.CreateInitialToken("inst-1", "gw")

	_, err := c.Process(context.Background(), def.FindNode("gw"), tok, def, instanceWith(map[string]any{"x": 1}))
	require.Error(t, err)
}

func TestParallelSplitAndJoin(t *testing.T) {
	c, tokens := newController()
	def := testutil.ParallelDefinition("wf-and")
	instance := instanceWith(nil)

	tok := tokens.CreateInitialToken("inst-1", "split")

	result, err := c.Process(context.Background(), def.FindNode("split"), tok, def, instance)
	require.NoError(t, err)
	require.Equal(t, OutcomeForked, result.Outcome)
	require.Len(t, result.Tokens, 3)

	join := def.FindNode("join")

	// First two arrivals wait.
	for _, arriving := range result.Tokens[:2] {
		require.NoError(t, tokens.MoveToken("inst-1", arriving.ID, "join"))

		joinResult, err := c.Process(context.Background(), join, arriving, def, instance)
		require.NoError(t, err)
		assert.Equal(t, OutcomeWaiting, joinResult.Outcome)
	}

	// The last arrival fires the merge.
	last := result.Tokens[2]
	require.NoError(t, tokens.MoveToken("inst-1", last.ID, "join"))

	joinResult, err := c.Process(context.Background(), join, last, def, instance)
	require.NoError(t, err)
	require.Equal(t, OutcomeMerged, joinResult.Outcome)
	assert.Equal(t, "after", joinResult.Tokens[0].Position)
	assert.Equal(t, 1, tokens.ActiveCount("inst-1"))
}

func TestJoin_RedeliveredArrivalDoesNotDoubleCount(t *testing.T) {
	c, tokens := newController()
	def := testutil.ParallelDefinition("wf-and")
	instance := instanceWith(nil)

	tok := tokens.CreateInitialToken("inst-1", "split")
	result, err := c.Process(context.Background(), def.FindNode("split"), tok, def, instance)
	require.NoError(t, err)

	join := def.FindNode("join")
	first := result.Tokens[0]
	require.NoError(t, tokens.MoveToken("inst-1", first.ID, "join"))

	for range 3 {
		joinResult, err := c.Process(context.Background(), join, first, def, instance)
		require.NoError(t, err)
		assert.Equal(t, OutcomeWaiting, joinResult.Outcome, "re-delivery must not satisfy the join")
	}
}

func TestJoin_ConcurrentArrivalsMergeExactlyOnce(t *testing.T) {
	c, tokens := newController()
	def := testutil.ParallelDefinition("wf-and")
	instance := instanceWith(nil)

	tok := tokens.CreateInitialToken("inst-1", "split")
	result, err := c.Process(context.Background(), def.FindNode("split"), tok, def, instance)
	require.NoError(t, err)
	require.Len(t, result.Tokens, 3)

	join := def.FindNode("join")

	// Siblings arrive concurrently; exactly one of them observes the merge
	// and the debug path of the others must not touch shared join state.
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		merged  int
		waiting int
	)

	for _, arriving := range result.Tokens {
		require.NoError(t, tokens.MoveToken("inst-1", arriving.ID, "join"))

		wg.Add(1)

		go func(arriving *models.Token) {
			defer wg.Done()

			joinResult, err := c.Process(context.Background(), join, arriving, def, instance)
			if !assert.NoError(t, err) {
				return
			}

			mu.Lock()
			defer mu.Unlock()

			switch joinResult.Outcome {
			case OutcomeMerged:
				merged++
			case OutcomeWaiting:
				waiting++
			}
		}(arriving)
	}

	wg.Wait()

	assert.Equal(t, 1, merged)
	assert.Equal(t, 2, waiting)
	assert.Equal(t, 1, tokens.ActiveCount("inst-1"))
}

func TestInclusiveSplit_ActivatesConditionSubsetAndPairsJoin(t *testing.T) {
	c, tokens := newController()

	def := testutil.NewBuilder("wf-or", "inclusive").
		Node("split", models.NodeTypeInclusiveGateway, nil).
		Node("a", models.NodeTypeTask, nil).
		Node("b", models.NodeTypeTask, nil).
		Node("c", models.NodeTypeTask, nil).
		Node("join", models.NodeTypeInclusiveGateway, nil).
		Node("end", models.NodeTypeEnd, nil).
		ConnectIf("split", "a", "x > 0").
		ConnectIf("split", "b", "x > 10").
		ConnectIf("split", "c", "x > 100").
		Connect("a", "join").
		Connect("b", "join").
		Connect("c", "join").
		Connect("join", "end").
		Build()

	instance := instanceWith(map[string]any{"x": 50})
	tok := tokens.CreateInitialToken("inst-1", "split")

	result, err := c.Process(context.Background(), def.FindNode("split"), tok, def, instance)
	require.NoError(t, err)
	require.Equal(t, OutcomeForked, result.Outcome)

	// 2 of 3 conditions are true: exactly 2 forked tokens.
	require.Len(t, result.Tokens, 2)

	// The paired join waits for the activation count, not the raw
	// incoming-edge count of 3.
	join := def.FindNode("join")
	first := result.Tokens[0]
	require.NoError(t, tokens.MoveToken("inst-1", first.ID, "join"))

	joinResult, err := c.Process(context.Background(), join, first, def, instance)
	require.NoError(t, err)
	assert.Equal(t, OutcomeWaiting, joinResult.Outcome)

	second := result.Tokens[1]
	require.NoError(t, tokens.MoveToken("inst-1", second.ID, "join"))

	joinResult, err = c.Process(context.Background(), join, second, def, instance)
	require.NoError(t, err)
	assert.Equal(t, OutcomeMerged, joinResult.Outcome)
}

func TestInclusiveSplit_SingleActivationContinuesWithoutFork(t *testing.T) {
	c, tokens := newController()
	def := testutil.InclusiveDefinition("wf-or")

	instance := instanceWith(map[string]any{"amount": 50})
	tok := tokens.CreateInitialToken("inst-1", "split")

	result, err := c.Process(context.Background(), def.FindNode("split"), tok, def, instance)
	require.NoError(t, err)

	assert.Equal(t, OutcomeContinued, result.Outcome)
	assert.Equal(t, "low", result.Tokens[0].Position)
}

func TestInclusiveSplit_NoConditionAndNoDefaultFails(t *testing.T) {
	c, tokens := newController()
	def := testutil.InclusiveDefinition("wf-or")

	tok := tokens.CreateInitialToken("inst-1", "split")

	_, err := c.Process(context.Background(), def.FindNode("split"), tok, def, instanceWith(map[string]any{}))
	require.Error(t, err)
}

func TestConditionErrorTreatedAsFalse(t *testing.T) {
	c, tokens := newController()

	def := testutil.NewBuilder("wf", "bad condition").
		Node("gw", models.NodeTypeExclusiveGateway, nil).
		Node("a", models.NodeTypeTask, nil).
		Node("b", models.NodeTypeTask, nil).
		ConnectIf("gw", "a", "x >").
		ConnectDefault("gw", "b").
		Build()

	tok := tokens.CreateInitialToken("inst-1", "gw")

	result, err := c.Process(context.Background(), def.FindNode("gw"), tok, def, instanceWith(map[string]any{"x": 1}))
	require.NoError(t, err)
	assert.Equal(t, "b", result.Tokens[0].Position)
}

func TestExportRestoreClear(t *testing.T) {
	c, tokens := newController()
	def := testutil.ParallelDefinition("wf-and")
	instance := instanceWith(nil)

	tok := tokens.CreateInitialToken("inst-1", "split")
	result, err := c.Process(context.Background(), def.FindNode("split"), tok, def, instance)
	require.NoError(t, err)

	join := def.FindNode("join")
	first := result.Tokens[0]
	require.NoError(t, tokens.MoveToken("inst-1", first.ID, "join"))

	_, err = c.Process(context.Background(), join, first, def, instance)
	require.NoError(t, err)

	states := c.Export("inst-1")
	require.Len(t, states, 1)
	assert.Len(t, states["join"].ArrivedTokenIDs, 1)

	c.Clear("inst-1")
	assert.Empty(t, c.Export("inst-1"))

	c.Restore("inst-1", states)
	restored := c.Export("inst-1")
	require.Len(t, restored, 1)
	assert.Len(t, restored["join"].ArrivedTokenIDs, 1)
}

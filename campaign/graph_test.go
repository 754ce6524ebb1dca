package campaign

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func actionNode(id string, at ActionType, cfg map[string]any) Node {
	return Node{ID: id, Type: NodeTypeAction, Data: NodeData{ActionType: &at, Config: cfg}}
}

func noopNode(id string) Node {
	return Node{ID: id, Type: NodeTypeAction}
}

func plainEdge(id, source, target string) Edge {
	return Edge{ID: id, Source: source, Target: target}
}

func condEdge(id, source, target string, positive bool, delay *DelayData) Edge {
	return Edge{ID: id, Source: source, Target: target, Data: &EdgeData{
		IsConditionalPath: true,
		IsPositive:        positive,
		DelayData:         delay,
	}}
}

func TestParseDefinition(t *testing.T) {
	t.Parallel()

	raw := []byte(`{
		"nodes": [
			{"id": "visit", "type": "action", "data": {"actionType": "profile_visit"}},
			{"id": "invite", "type": "action", "data": {"actionType": "send_connection_request", "config": {"message": "hello"}}},
			{"id": "placeholder", "type": "addStep", "data": {}}
		],
		"edges": [
			{"id": "e1", "source": "visit", "target": "invite", "data": {"delayData": {"delay": 2, "unit": "d"}}},
			{"id": "e2", "source": "invite", "target": "placeholder"}
		]
	}`)

	def, err := ParseDefinition(raw)
	require.NoError(t, err)
	require.Len(t, def.Nodes, 3)
	require.Equal(t, 48*time.Hour, def.Edges[0].Delay())

	at, ok := def.Nodes[0].Action()
	require.True(t, ok)
	require.Equal(t, ActionProfileVisit, at)
	require.True(t, def.Nodes[2].IsAddStep())
}

func TestParseDefinitionRejectsMalformedJSON(t *testing.T) {
	t.Parallel()

	_, err := ParseDefinition([]byte(`{"nodes": [`))
	require.ErrorContains(t, err, "decode workflow definition")
}

func TestValidateDefinitionRejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		def  WorkflowDefinition
		want string
	}{
		{
			name: "duplicate node id",
			def:  WorkflowDefinition{Nodes: []Node{noopNode("a"), noopNode("a")}},
			want: "duplicate node id",
		},
		{
			name: "node without id",
			def:  WorkflowDefinition{Nodes: []Node{{Type: NodeTypeAction}}},
			want: "node without id",
		},
		{
			name: "unknown action type",
			def:  WorkflowDefinition{Nodes: []Node{actionNode("a", ActionType("teleport"), nil)}},
			want: `unknown action type "teleport"`,
		},
		{
			name: "comment without message",
			def:  WorkflowDefinition{Nodes: []Node{actionNode("a", ActionCommentPost, nil)}},
			want: "invalid comment_post config",
		},
		{
			name: "edge with unknown source",
			def: WorkflowDefinition{
				Nodes: []Node{noopNode("a")},
				Edges: []Edge{plainEdge("e1", "ghost", "a")},
			},
			want: "unknown source",
		},
		{
			name: "edge with unknown target",
			def: WorkflowDefinition{
				Nodes: []Node{noopNode("a")},
				Edges: []Edge{plainEdge("e1", "a", "ghost")},
			},
			want: "unknown target",
		},
		{
			name: "unknown delay unit",
			def: WorkflowDefinition{
				Nodes: []Node{noopNode("a"), noopNode("b")},
				Edges: []Edge{{ID: "e1", Source: "a", Target: "b", Data: &EdgeData{
					DelayData: &DelayData{Delay: 1, Unit: "fortnight"},
				}}},
			},
			want: "unknown delay unit",
		},
		{
			name: "negative delay",
			def: WorkflowDefinition{
				Nodes: []Node{noopNode("a"), noopNode("b")},
				Edges: []Edge{{ID: "e1", Source: "a", Target: "b", Data: &EdgeData{
					DelayData: &DelayData{Delay: -1, Unit: "h"},
				}}},
			},
			want: "negative delay",
		},
		{
			name: "cycle",
			def: WorkflowDefinition{
				Nodes: []Node{noopNode("a"), noopNode("b"), noopNode("c")},
				Edges: []Edge{plainEdge("e1", "a", "b"), plainEdge("e2", "b", "c"), plainEdge("e3", "c", "b")},
			},
			want: "contains a cycle",
		},
		{
			name: "no source node",
			def: WorkflowDefinition{
				Nodes: []Node{noopNode("a"), noopNode("b")},
				Edges: []Edge{plainEdge("e1", "a", "b"), plainEdge("e2", "b", "a")},
			},
			want: "no source node",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.ErrorContains(t, ValidateDefinition(&tc.def), tc.want)
		})
	}
}

func TestValidateDefinitionAllowsAddStepEdges(t *testing.T) {
	t.Parallel()

	def := WorkflowDefinition{
		Nodes: []Node{
			actionNode("visit", ActionProfileVisit, nil),
			{ID: "plus", Type: NodeTypeAddStep},
		},
		Edges: []Edge{plainEdge("e1", "visit", "plus")},
	}
	require.NoError(t, ValidateDefinition(&def))
}

func TestValidateDefinitionEmptyGraph(t *testing.T) {
	t.Parallel()

	require.NoError(t, ValidateDefinition(&WorkflowDefinition{}))
	require.Error(t, ValidateDefinition(nil))
}

func TestTraversalDequeuesSourcesInDefinitionOrder(t *testing.T) {
	t.Parallel()

	def := &WorkflowDefinition{
		Nodes: []Node{noopNode("s1"), noopNode("s2"), noopNode("join")},
		Edges: []Edge{plainEdge("e1", "s1", "join"), plainEdge("e2", "s2", "join")},
	}
	trav := newTraversal(def)

	first, ok := trav.Next()
	require.True(t, ok)
	require.Equal(t, "s1", first.ID)
	second, ok := trav.Next()
	require.True(t, ok)
	require.Equal(t, "s2", second.ID)

	// The join becomes runnable only after both parents arrive.
	require.False(t, trav.Arrive("join"))
	require.True(t, trav.Arrive("join"))
	trav.Enqueue("join")

	join, ok := trav.Next()
	require.True(t, ok)
	require.Equal(t, "join", join.ID)
	_, ok = trav.Next()
	require.False(t, ok)
}

func TestTraversalSkipPrunesBranch(t *testing.T) {
	t.Parallel()

	def := &WorkflowDefinition{
		Nodes: []Node{noopNode("invite"), noopNode("followup"), noopNode("withdraw")},
		Edges: []Edge{
			condEdge("yes", "invite", "followup", true, nil),
			condEdge("no", "invite", "withdraw", false, &DelayData{Delay: 3, Unit: "d"}),
		},
	}
	trav := newTraversal(def)

	node, ok := trav.Next()
	require.True(t, ok)
	require.Equal(t, "invite", node.ID)

	// Accepted outcome: follow the positive edge, prune the negative one.
	trav.Skip("withdraw")
	require.True(t, trav.Arrive("followup"))
	trav.Enqueue("followup")

	node, ok = trav.Next()
	require.True(t, ok)
	require.Equal(t, "followup", node.ID)

	// The pruned branch never runs even though its in-degree reached zero.
	_, ok = trav.Next()
	require.False(t, ok)
}

func TestTraversalJoinBehindPrunedBranchStarves(t *testing.T) {
	t.Parallel()

	// a forks into b (positive) and c (negative); both feed d. Pruning c
	// leaves d with an in-degree that never reaches zero, so the walk ends
	// without executing it.
	def := &WorkflowDefinition{
		Nodes: []Node{noopNode("a"), noopNode("b"), noopNode("c"), noopNode("d")},
		Edges: []Edge{
			condEdge("ab", "a", "b", true, nil),
			condEdge("ac", "a", "c", false, nil),
			plainEdge("bd", "b", "d"),
			plainEdge("cd", "c", "d"),
		},
	}
	trav := newTraversal(def)

	_, ok := trav.Next()
	require.True(t, ok)
	trav.Skip("c")
	require.True(t, trav.Arrive("b"))
	trav.Enqueue("b")

	node, ok := trav.Next()
	require.True(t, ok)
	require.Equal(t, "b", node.ID)
	require.False(t, trav.Arrive("d"))

	_, ok = trav.Next()
	require.False(t, ok)
}

func TestTraversalArriveAfterZeroIsNoop(t *testing.T) {
	t.Parallel()

	def := &WorkflowDefinition{
		Nodes: []Node{noopNode("a"), noopNode("b")},
		Edges: []Edge{plainEdge("e1", "a", "b")},
	}
	trav := newTraversal(def)

	require.True(t, trav.Arrive("b"))
	require.False(t, trav.Arrive("b"))
}

func TestTraversalExcludesAddStepNodes(t *testing.T) {
	t.Parallel()

	def := &WorkflowDefinition{
		Nodes: []Node{
			noopNode("visit"),
			{ID: "plus", Type: NodeTypeAddStep},
		},
		Edges: []Edge{plainEdge("e1", "visit", "plus")},
	}
	trav := newTraversal(def)

	node, ok := trav.Next()
	require.True(t, ok)
	require.Equal(t, "visit", node.ID)
	require.Empty(t, trav.Outgoing("visit"))
	_, ok = trav.Next()
	require.False(t, ok)
}

func TestRejectedBranchDelay(t *testing.T) {
	t.Parallel()

	def := &WorkflowDefinition{
		Nodes: []Node{noopNode("invite"), noopNode("followup"), noopNode("withdraw")},
		Edges: []Edge{
			condEdge("yes", "invite", "followup", true, &DelayData{Delay: 2, Unit: "h"}),
			condEdge("no", "invite", "withdraw", false, &DelayData{Delay: 3, Unit: "d"}),
		},
	}
	trav := newTraversal(def)

	delay, ok := trav.RejectedBranchDelay("invite")
	require.True(t, ok)
	require.Equal(t, 72*time.Hour, delay)

	_, ok = trav.RejectedBranchDelay("followup")
	require.False(t, ok)
}

func TestDelayDataDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		delay int
		unit  string
		want  time.Duration
	}{
		{delay: 45, unit: "s", want: 45 * time.Second},
		{delay: 5, unit: "m", want: 5 * time.Minute},
		{delay: 2, unit: "h", want: 2 * time.Hour},
		{delay: 3, unit: "d", want: 72 * time.Hour},
		{delay: 1, unit: "w", want: 7 * 24 * time.Hour},
		{delay: 9, unit: "fortnight", want: 0},
	}
	for _, tc := range tests {
		require.Equal(t, tc.want, DelayData{Delay: tc.delay, Unit: tc.unit}.Duration(), "unit %q", tc.unit)
	}
}

func TestNodeActionEmptyIsNoop(t *testing.T) {
	t.Parallel()

	empty := ActionType("")
	n := Node{ID: "x", Type: NodeTypeAction, Data: NodeData{ActionType: &empty}}
	_, ok := n.Action()
	require.False(t, ok)

	_, ok = Node{ID: "y", Type: NodeTypeAction}.Action()
	require.False(t, ok)
}

func TestPollCadence(t *testing.T) {
	t.Parallel()

	require.Equal(t, 15*time.Minute, pollCadence(6*time.Hour))
	require.Equal(t, 30*time.Minute, pollCadence(3*24*time.Hour))
	require.Equal(t, time.Hour, pollCadence(10*24*time.Hour))
}

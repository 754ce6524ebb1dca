package campaign

import (
	"encoding/json"
	"fmt"
	"time"
)

// ParseDefinition decodes and validates a stored workflow definition.
func ParseDefinition(raw []byte) (*WorkflowDefinition, error) {
	var def WorkflowDefinition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("campaign: decode workflow definition: %w", err)
	}
	if err := ValidateDefinition(&def); err != nil {
		return nil, err
	}
	return &def, nil
}

// ValidateDefinition checks the structural invariants of a definition: unique
// node ids, edges between known action nodes, legal delay units, per-action
// config schemas, acyclicity of the action subgraph and at least one source
// node. Unknown action types are rejected so a stale definition cannot walk
// into undefined behaviour at execution time.
func ValidateDefinition(def *WorkflowDefinition) error {
	if def == nil {
		return fmt.Errorf("campaign: workflow definition is required")
	}
	actions := make(map[string]Node, len(def.Nodes))
	for _, n := range def.Nodes {
		if n.ID == "" {
			return fmt.Errorf("campaign: node without id")
		}
		if _, dup := actions[n.ID]; dup {
			return fmt.Errorf("campaign: duplicate node id %q", n.ID)
		}
		if n.IsAddStep() {
			continue
		}
		if at, ok := n.Action(); ok {
			if err := validateActionConfig(at, n.Data.Config); err != nil {
				return fmt.Errorf("campaign: node %q: %w", n.ID, err)
			}
		}
		actions[n.ID] = n
	}
	if len(actions) == 0 {
		return nil
	}

	indeg := make(map[string]int, len(actions))
	adj := make(map[string][]string, len(actions))
	for _, e := range def.Edges {
		if _, ok := actions[e.Source]; !ok {
			if isAddStepNode(def, e.Source) {
				continue
			}
			return fmt.Errorf("campaign: edge %q references unknown source %q", e.ID, e.Source)
		}
		if _, ok := actions[e.Target]; !ok {
			if isAddStepNode(def, e.Target) {
				continue
			}
			return fmt.Errorf("campaign: edge %q references unknown target %q", e.ID, e.Target)
		}
		if d := e.Data; d != nil && d.DelayData != nil {
			switch d.DelayData.Unit {
			case "s", "m", "h", "d", "w":
			default:
				return fmt.Errorf("campaign: edge %q has unknown delay unit %q", e.ID, d.DelayData.Unit)
			}
			if d.DelayData.Delay < 0 {
				return fmt.Errorf("campaign: edge %q has negative delay", e.ID)
			}
		}
		indeg[e.Target]++
		adj[e.Source] = append(adj[e.Source], e.Target)
	}

	// Kahn's pass over the restricted subgraph detects cycles and the
	// no-source case in one go.
	var queue []string
	for _, n := range def.Nodes {
		if _, ok := actions[n.ID]; ok && indeg[n.ID] == 0 {
			queue = append(queue, n.ID)
		}
	}
	if len(queue) == 0 {
		return fmt.Errorf("campaign: workflow graph has no source node")
	}
	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, t := range adj[id] {
			indeg[t]--
			if indeg[t] == 0 {
				queue = append(queue, t)
			}
		}
	}
	if visited != len(actions) {
		return fmt.Errorf("campaign: workflow graph contains a cycle")
	}
	return nil
}

func isAddStepNode(def *WorkflowDefinition, id string) bool {
	for _, n := range def.Nodes {
		if n.ID == id {
			return n.IsAddStep()
		}
	}
	return false
}

// traversal is the walker state over the restricted action subgraph. All
// iteration follows definition order so replays visit nodes identically.
type traversal struct {
	nodes    map[string]Node
	indeg    map[string]int
	outgoing map[string][]Edge
	queue    []string
}

// newTraversal restricts the definition to executable nodes, computes
// in-degrees and seeds the queue with every source node in definition order.
func newTraversal(def *WorkflowDefinition) *traversal {
	t := &traversal{
		nodes:    make(map[string]Node, len(def.Nodes)),
		indeg:    make(map[string]int, len(def.Nodes)),
		outgoing: make(map[string][]Edge, len(def.Nodes)),
	}
	for _, n := range def.Nodes {
		if n.IsAddStep() {
			continue
		}
		t.nodes[n.ID] = n
	}
	for _, e := range def.Edges {
		if _, ok := t.nodes[e.Source]; !ok {
			continue
		}
		if _, ok := t.nodes[e.Target]; !ok {
			continue
		}
		t.indeg[e.Target]++
		t.outgoing[e.Source] = append(t.outgoing[e.Source], e)
	}
	for _, n := range def.Nodes {
		if _, ok := t.nodes[n.ID]; ok && t.indeg[n.ID] == 0 {
			t.queue = append(t.queue, n.ID)
		}
	}
	return t
}

// Next dequeues the next runnable node.
func (t *traversal) Next() (Node, bool) {
	for len(t.queue) > 0 {
		id := t.queue[0]
		t.queue = t.queue[1:]
		n, ok := t.nodes[id]
		if ok {
			return n, true
		}
	}
	return Node{}, false
}

// Outgoing returns the source node's edges in definition order.
func (t *traversal) Outgoing(id string) []Edge {
	return t.outgoing[id]
}

// Skip decrements the target's in-degree without scheduling it. Targets on a
// pruned branch still converge to zero so joins fed through other branches
// can run.
func (t *traversal) Skip(target string) {
	if t.indeg[target] > 0 {
		t.indeg[target]--
	}
}

// Arrive decrements the target's in-degree and reports whether the target
// just became runnable. The caller enqueues via Enqueue after honouring the
// edge delay.
func (t *traversal) Arrive(target string) bool {
	if t.indeg[target] == 0 {
		return false
	}
	t.indeg[target]--
	return t.indeg[target] == 0
}

// Enqueue appends a runnable node id to the FIFO queue.
func (t *traversal) Enqueue(target string) {
	t.queue = append(t.queue, target)
}

// RejectedBranchDelay returns the delay of the source's conditional
// not-accepted edge when one exists. Connection-request polling uses it as
// the wait horizon.
func (t *traversal) RejectedBranchDelay(id string) (time.Duration, bool) {
	for _, e := range t.outgoing[id] {
		if e.Conditional() && !e.Positive() {
			return e.Delay(), true
		}
	}
	return 0, false
}

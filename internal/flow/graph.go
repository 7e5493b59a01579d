package flow

import (
	"fmt"

	"github.com/dtalero78/bot-bsl-sub000/internal/models"
)

// Graph is a validated, indexed form of a FlowDefinition ready for
// execution. It is immutable after construction.
type Graph struct {
	def      *models.FlowDefinition
	nodes    map[string]models.Node
	outgoing map[string][]string // ordered edge targets per source node
	startID  string
}

// NewGraph validates a definition and builds the execution indexes.
func NewGraph(def *models.FlowDefinition) (*Graph, error) {
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("flow definition rejected: %w", err)
	}

	g := &Graph{
		def:      def,
		nodes:    make(map[string]models.Node, len(def.Nodes)),
		outgoing: make(map[string][]string),
	}
	for _, n := range def.Nodes {
		g.nodes[n.ID] = n
		if n.Type == models.NodeTypeStart {
			g.startID = n.ID
		}
	}
	// Connection order is preserved: position encodes branch selection.
	for _, c := range def.Connections {
		g.outgoing[c.From] = append(g.outgoing[c.From], c.To)
	}
	return g, nil
}

// Node returns the node with the given id.
func (g *Graph) Node(id string) (models.Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// StartID returns the id of the unique start node.
func (g *Graph) StartID() string {
	return g.startID
}

// Outgoing returns the ordered outgoing edge targets of a node.
func (g *Graph) Outgoing(id string) []string {
	return g.outgoing[id]
}

// Next returns the positional outgoing edge of a node, or "" when the
// position is out of range.
func (g *Graph) Next(id string, position int) string {
	edges := g.outgoing[id]
	if position < 0 || position >= len(edges) {
		return ""
	}
	return edges[position]
}

// Definition returns the underlying definition for export.
func (g *Graph) Definition() *models.FlowDefinition {
	return g.def
}

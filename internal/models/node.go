// Package models defines the executable conversation graph types.
package models

import (
	"encoding/json"
	"fmt"
)

// NodeType tags the role of a node in the conversation graph.
type NodeType string

const (
	NodeTypeStart     NodeType = "start"
	NodeTypeMessage   NodeType = "message"
	NodeTypeMenu      NodeType = "menu"
	NodeTypeCondition NodeType = "condition"
	NodeTypeAI        NodeType = "ai"
	NodeTypeInput     NodeType = "input"
	NodeTypeAPI       NodeType = "api"
	NodeTypePayment   NodeType = "payment"
	NodeTypePDF       NodeType = "pdf"
	NodeTypeTransfer  NodeType = "transfer"
	NodeTypeImage     NodeType = "image"
	NodeTypeEnd       NodeType = "end"
)

// IsValidNodeType checks if the given node type is supported.
func IsValidNodeType(nt NodeType) bool {
	switch nt {
	case NodeTypeStart, NodeTypeMessage, NodeTypeMenu, NodeTypeCondition,
		NodeTypeAI, NodeTypeInput, NodeTypeAPI, NodeTypePayment,
		NodeTypePDF, NodeTypeTransfer, NodeTypeImage, NodeTypeEnd:
		return true
	default:
		return false
	}
}

// ConditionOperator is one of the four predicate operators of condition nodes.
type ConditionOperator string

const (
	OperatorEquals     ConditionOperator = "equals"
	OperatorContains   ConditionOperator = "contains"
	OperatorStartsWith ConditionOperator = "startsWith"
	OperatorRegex      ConditionOperator = "regex"
)

// IsValidOperator checks if the given condition operator is supported.
func IsValidOperator(op ConditionOperator) bool {
	switch op {
	case OperatorEquals, OperatorContains, OperatorStartsWith, OperatorRegex:
		return true
	default:
		return false
	}
}

// InputValidation names the validation kind requested by an input node.
type InputValidation string

const (
	ValidationCedula InputValidation = "cedula"
	ValidationEmail  InputValidation = "email"
	ValidationNumber InputValidation = "number"
	ValidationText   InputValidation = "text"
)

// MenuOption is one selectable entry of a menu node. Next, when set,
// overrides the positional edge for that choice.
type MenuOption struct {
	Label string `json:"label"`
	Next  string `json:"next,omitempty"`
}

// NodeData is the variant-specific payload of a node. Fields are read
// according to the node type; unused fields stay empty.
type NodeData struct {
	Text         string            `json:"text,omitempty"`         // message/menu/input/transfer text
	Options      []MenuOption      `json:"options,omitempty"`      // menu
	Variable     string            `json:"variable,omitempty"`     // condition
	Operator     ConditionOperator `json:"operator,omitempty"`     // condition
	Value        string            `json:"value,omitempty"`        // condition
	SystemPrompt string            `json:"systemPrompt,omitempty"` // ai prompt override
	Fallback     string            `json:"fallback,omitempty"`     // ai failure fallback text
	Validation   InputValidation   `json:"validation,omitempty"`   // input
	Endpoint     string            `json:"endpoint,omitempty"`     // api
}

// Node is one step of the executable conversation graph. Nodes are immutable
// once loaded; the graph is loaded wholesale per flow version.
type Node struct {
	ID    string   `json:"id"`
	Type  NodeType `json:"type"`
	Title string   `json:"title"`
	Data  NodeData `json:"data,omitempty"`
}

// Connection is a directed edge between two nodes. For a given From node the
// position within the outgoing list encodes branch selection.
type Connection struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// FlowDefinition is the persisted form of a conversation graph.
type FlowDefinition struct {
	Nodes       []Node            `json:"nodes"`
	Connections []Connection      `json:"connections"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Validate performs the structural checks required before a definition is
// accepted for execution: a start node exists, every node carries id, type
// and title, connections reference existing nodes, menu nodes have options,
// condition nodes have variable+operator and api nodes have an endpoint.
func (d *FlowDefinition) Validate() error {
	ids := make(map[string]struct{}, len(d.Nodes))
	startCount := 0
	for i, n := range d.Nodes {
		if n.ID == "" {
			return fmt.Errorf("node %d: missing id", i)
		}
		if _, dup := ids[n.ID]; dup {
			return fmt.Errorf("node %s: duplicate id", n.ID)
		}
		ids[n.ID] = struct{}{}
		if !IsValidNodeType(n.Type) {
			return fmt.Errorf("node %s: invalid type %q", n.ID, n.Type)
		}
		if n.Title == "" {
			return fmt.Errorf("node %s: missing title", n.ID)
		}
		switch n.Type {
		case NodeTypeStart:
			startCount++
		case NodeTypeMenu:
			if len(n.Data.Options) == 0 {
				return fmt.Errorf("menu node %s: options array is required", n.ID)
			}
		case NodeTypeCondition:
			if n.Data.Variable == "" {
				return fmt.Errorf("condition node %s: variable is required", n.ID)
			}
			if !IsValidOperator(n.Data.Operator) {
				return fmt.Errorf("condition node %s: invalid operator %q", n.ID, n.Data.Operator)
			}
		case NodeTypeAPI:
			if n.Data.Endpoint == "" {
				return fmt.Errorf("api node %s: endpoint is required", n.ID)
			}
		}
	}
	if startCount == 0 {
		return ErrNoStartNode
	}
	if startCount > 1 {
		return fmt.Errorf("flow has %d start nodes, expected exactly one", startCount)
	}
	for i, c := range d.Connections {
		if _, ok := ids[c.From]; !ok {
			return fmt.Errorf("connection %d: %w: from=%s", i, ErrUnknownNode, c.From)
		}
		if _, ok := ids[c.To]; !ok {
			return fmt.Errorf("connection %d: %w: to=%s", i, ErrUnknownNode, c.To)
		}
	}
	return nil
}

// ParseFlowDefinition decodes and validates a flow definition JSON document.
func ParseFlowDefinition(data []byte) (*FlowDefinition, error) {
	var def FlowDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to decode flow definition: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// Export encodes the definition as indented JSON for dashboard round-trips.
func (d *FlowDefinition) Export() ([]byte, error) {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode flow definition: %w", err)
	}
	return data, nil
}

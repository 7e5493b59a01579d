package models

import (
	"encoding/json"
	"strings"
	"testing"
)

func validDefinition() *FlowDefinition {
	return &FlowDefinition{
		Nodes: []Node{
			{ID: "n1", Type: NodeTypeStart, Title: "Inicio"},
			{ID: "n2", Type: NodeTypeMenu, Title: "Menú", Data: NodeData{
				Text:    "Elige",
				Options: []MenuOption{{Label: "Agendar"}},
			}},
			{ID: "n3", Type: NodeTypeEnd, Title: "Fin"},
		},
		Connections: []Connection{
			{From: "n1", To: "n2"},
			{From: "n2", To: "n3"},
		},
	}
}

func TestFlowDefinitionValidate(t *testing.T) {
	if err := validDefinition().Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	t.Run("no start node", func(t *testing.T) {
		def := validDefinition()
		def.Nodes[0].Type = NodeTypeMessage
		if err := def.Validate(); err != ErrNoStartNode {
			t.Errorf("expected ErrNoStartNode, got %v", err)
		}
	})

	t.Run("two start nodes", func(t *testing.T) {
		def := validDefinition()
		def.Nodes[2] = Node{ID: "n3", Type: NodeTypeStart, Title: "Otro inicio"}
		if err := def.Validate(); err == nil || !strings.Contains(err.Error(), "start nodes") {
			t.Errorf("expected duplicate-start error, got %v", err)
		}
	})

	t.Run("duplicate id", func(t *testing.T) {
		def := validDefinition()
		def.Nodes[2].ID = "n1"
		if err := def.Validate(); err == nil || !strings.Contains(err.Error(), "duplicate") {
			t.Errorf("expected duplicate id error, got %v", err)
		}
	})

	t.Run("invalid type", func(t *testing.T) {
		def := validDefinition()
		def.Nodes[1].Type = "webhook"
		if err := def.Validate(); err == nil || !strings.Contains(err.Error(), "invalid type") {
			t.Errorf("expected invalid type error, got %v", err)
		}
	})

	t.Run("menu without options", func(t *testing.T) {
		def := validDefinition()
		def.Nodes[1].Data.Options = nil
		if err := def.Validate(); err == nil || !strings.Contains(err.Error(), "options") {
			t.Errorf("expected options error, got %v", err)
		}
	})

	t.Run("condition missing operator", func(t *testing.T) {
		def := validDefinition()
		def.Nodes[1] = Node{ID: "n2", Type: NodeTypeCondition, Title: "Cond", Data: NodeData{Variable: "userMessage"}}
		if err := def.Validate(); err == nil || !strings.Contains(err.Error(), "operator") {
			t.Errorf("expected operator error, got %v", err)
		}
	})

	t.Run("api missing endpoint", func(t *testing.T) {
		def := validDefinition()
		def.Nodes[1] = Node{ID: "n2", Type: NodeTypeAPI, Title: "API"}
		if err := def.Validate(); err == nil || !strings.Contains(err.Error(), "endpoint") {
			t.Errorf("expected endpoint error, got %v", err)
		}
	})

	t.Run("dangling connection", func(t *testing.T) {
		def := validDefinition()
		def.Connections = append(def.Connections, Connection{From: "n3", To: "ghost"})
		if err := def.Validate(); err == nil || !strings.Contains(err.Error(), "ghost") {
			t.Errorf("expected unknown node error, got %v", err)
		}
	})
}

func TestParseFlowDefinition(t *testing.T) {
	data, err := validDefinition().Export()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	def, err := ParseFlowDefinition(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(def.Nodes) != 3 || def.Nodes[1].Data.Options[0].Label != "Agendar" {
		t.Errorf("round-trip lost data: %+v", def)
	}

	if _, err := ParseFlowDefinition([]byte("{nodes:")); err == nil {
		t.Error("malformed JSON should be rejected")
	}
	// Structurally invalid documents are rejected at parse time too.
	raw, _ := json.Marshal(FlowDefinition{Nodes: []Node{{ID: "a", Type: NodeTypeEnd, Title: "Fin"}}})
	if _, err := ParseFlowDefinition(raw); err != ErrNoStartNode {
		t.Errorf("expected ErrNoStartNode, got %v", err)
	}
}

package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/canvasflow/canvasflow/types"
)

// Definition is the serializable shape of a workflow, the minimal form
// needed to drive execution. It is consumed at graph build time; malformed
// input is rejected before any execution state is created.
type Definition struct {
	// Name is the workflow name
	Name string `json:"name" yaml:"name"`
	// Description describes the workflow
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// Nodes contains all node declarations
	Nodes []NodeSpec `json:"nodes" yaml:"nodes"`
	// Edges contains all dependency declarations
	Edges []EdgeSpec `json:"edges" yaml:"edges"`
}

// NodeSpec is a serializable node declaration.
type NodeSpec struct {
	// ID is the unique node identifier
	ID string `json:"id" yaml:"id"`
	// Kind is the node kind (trigger, agent, integration, output)
	Kind string `json:"kind" yaml:"kind"`
	// Label is the canvas label
	Label string `json:"label,omitempty" yaml:"label,omitempty"`
	// Task describes what the node does
	Task string `json:"task,omitempty" yaml:"task,omitempty"`
	// EndpointRef names the external integration endpoint
	EndpointRef string `json:"endpoint_ref,omitempty" yaml:"endpoint_ref,omitempty"`
	// Params carries opaque parameters for the external executor
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// EdgeSpec is a serializable dependency declaration.
type EdgeSpec struct {
	// Source is the upstream node ID
	Source string `json:"source" yaml:"source"`
	// Target is the downstream node ID
	Target string `json:"target" yaml:"target"`
}

// Validate checks the definition shape before graph construction.
// Structural DAG properties (cycles, dangling edges, duplicates) are
// checked by GraphBuilder.Build; this catches malformed input earlier
// with clearer messages.
func (d *Definition) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return types.NewError(types.ErrValidation, "workflow name must not be empty")
	}
	if len(d.Nodes) == 0 {
		return types.NewError(types.ErrEmptyGraph, "workflow has no nodes")
	}
	for i, n := range d.Nodes {
		if strings.TrimSpace(n.ID) == "" {
			return types.NewError(types.ErrValidation, fmt.Sprintf("node %d has empty id", i))
		}
		if !NodeKind(n.Kind).Valid() {
			return types.NewError(types.ErrValidation,
				fmt.Sprintf("node %q has unknown kind %q", n.ID, n.Kind))
		}
	}
	for i, e := range d.Edges {
		if e.Source == "" || e.Target == "" {
			return types.NewError(types.ErrValidation,
				fmt.Sprintf("edge %d must declare both source and target", i))
		}
	}
	return nil
}

// BuildGraph validates the definition and constructs the graph.
func (d *Definition) BuildGraph() (*Graph, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	b := NewGraphBuilder()
	for _, n := range d.Nodes {
		b.AddNode(Node{
			ID:          n.ID,
			Kind:        NodeKind(n.Kind),
			Label:       n.Label,
			Task:        n.Task,
			EndpointRef: n.EndpointRef,
			Params:      n.Params,
		})
	}
	for _, e := range d.Edges {
		b.Connect(e.Source, e.Target)
	}
	return b.Build()
}

// ToJSON converts the definition to an indented JSON string.
func (d *Definition) ToJSON() (string, error) {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal definition to JSON: %w", err)
	}
	return string(data), nil
}

// ToYAML converts the definition to a YAML string.
func (d *Definition) ToYAML() (string, error) {
	data, err := yaml.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("marshal definition to YAML: %w", err)
	}
	return string(data), nil
}

// DefinitionFromJSON parses and validates a definition from JSON.
func DefinitionFromJSON(data []byte) (*Definition, error) {
	var def Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, types.NewError(types.ErrValidation, "malformed workflow JSON").WithCause(err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// DefinitionFromYAML parses and validates a definition from YAML.
func DefinitionFromYAML(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, types.NewError(types.ErrValidation, "malformed workflow YAML").WithCause(err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// LoadDefinition reads a definition from a file, choosing the format from
// the extension (.json, .yaml, .yml).
func LoadDefinition(filename string) (*Definition, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read workflow definition: %w", err)
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".json":
		return DefinitionFromJSON(data)
	case ".yaml", ".yml":
		return DefinitionFromYAML(data)
	default:
		return nil, types.NewError(types.ErrValidation,
			fmt.Sprintf("unsupported definition format %q", filepath.Ext(filename)))
	}
}

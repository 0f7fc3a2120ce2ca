package models

// ParameterSpec describes one parameter of a command template. ContextSource
// names the part of the thread's context snapshot that can fill the
// parameter when the user leaves it implicit ("my ontology").
type ParameterSpec struct {
	Name          string `yaml:"name" json:"name"`
	Type          string `yaml:"type" json:"type"`
	Required      bool   `yaml:"required" json:"required"`
	ContextSource string `yaml:"contextSource,omitempty" json:"context_source,omitempty"`
}

// Context sources a ParameterSpec may name.
const (
	ContextSourceActiveOntology   = "active_ontology"
	ContextSourceRecentDocument   = "recent_document"
	ContextSourceCurrentWorkbench = "current_workbench"
)

// CommandTemplate is static configuration describing one recognizable
// command: how to match it, which parameters it takes, which endpoint it
// maps to and the capability that endpoint requires. Templates are loaded
// once at startup and never mutated at runtime.
type CommandTemplate struct {
	Name                string          `yaml:"name" json:"name"`
	Description         string          `yaml:"description" json:"description"`
	Patterns            []string        `yaml:"patterns" json:"patterns"`
	Parameters          []ParameterSpec `yaml:"parameters" json:"parameters"`
	Method              string          `yaml:"method" json:"method"`
	PathTemplate        string          `yaml:"pathTemplate" json:"path_template"`
	Capability          string          `yaml:"capability" json:"capability"`
	ConfidenceThreshold float64         `yaml:"confidenceThreshold" json:"confidence_threshold"`
}

// EndpointKey renders the METHOD:PATH_TEMPLATE form used by the capability
// whitelist.
func (t CommandTemplate) EndpointKey() string {
	return t.Method + ":" + t.PathTemplate
}

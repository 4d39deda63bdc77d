package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Field types accepted in stage/step schemas.
var fieldTypes = map[string]bool{
	"text":   true,
	"number": true,
	"date":   true,
	"select": true,
	"file":   true,
}

// Config models leasetrack.yml.
type Config struct {
	Engine struct {
		Mode string `yaml:"mode"` // graph or linear
	} `yaml:"engine"`
	Workflow struct {
		Root   string           `yaml:"root"`
		Stages map[string]Stage `yaml:"stages"`
		// ActiveRoleOverrides reassigns responsibility for sub-statuses
		// where the stage's nominal owner is waiting on someone else.
		ActiveRoleOverrides []RoleOverride `yaml:"active_role_overrides"`
		// ResponseEdges replace a stage's declared transitions while the
		// lead sits in a query sub-status (ping-pong sub-loops).
		ResponseEdges []ResponseEdge `yaml:"response_edges"`
		Annotations   []Annotation   `yaml:"annotations"`
		Drop          struct {
			Stage     string `yaml:"stage"`
			SubStatus string `yaml:"sub_status"`
		} `yaml:"drop"`
		TerminalStage string `yaml:"terminal_stage"`
	} `yaml:"workflow"`
	Steps    map[int]Step    `yaml:"steps"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type Stage struct {
	Label       string       `yaml:"label"`
	Role        string       `yaml:"role"`
	SubStatuses []string     `yaml:"sub_statuses"`
	Checklist   []string     `yaml:"checklist"`
	Fields      []Field      `yaml:"fields"`
	Transitions []Transition `yaml:"transitions"`
}

type Field struct {
	Name     string   `yaml:"name"`
	Label    string   `yaml:"label"`
	Type     string   `yaml:"type"`
	Options  []string `yaml:"options"`
	Required bool     `yaml:"required"`
}

type Transition struct {
	Label           string `yaml:"label"`
	TargetStage     string `yaml:"target_stage"`
	TargetSubStatus string `yaml:"target_sub_status"`
	// ActionRole hands responsibility to a specific role instead of the
	// target stage's nominal owner.
	ActionRole string `yaml:"action_role"`
}

type RoleOverride struct {
	Stage     string `yaml:"stage"`
	SubStatus string `yaml:"sub_status"`
	Role      string `yaml:"role"`
}

type ResponseEdge struct {
	Stage      string     `yaml:"stage"`
	SubStatus  string     `yaml:"sub_status"`
	Transition Transition `yaml:"transition"`
}

// Annotation appends Remark to the stored remarks when the named number
// field in a submission from Stage exceeds Above.
type Annotation struct {
	Stage  string  `yaml:"stage"`
	Field  string  `yaml:"field"`
	Above  float64 `yaml:"above"`
	Remark string  `yaml:"remark"`
}

type Step struct {
	Role      string   `yaml:"role"`
	Name      string   `yaml:"name"`
	Checklist []string `yaml:"checklist"`
	Fields    []Field  `yaml:"fields"`
	// DropWhen drops the lead when the named field carries Value in an
	// approved submission for this step.
	DropWhen *DropRule `yaml:"drop_when"`
}

type DropRule struct {
	Field string `yaml:"field"`
	Value string `yaml:"value"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; run lt workflow init or use the built-in default", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the built-in LeaseTrack workflow.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "leasetrack.yml")
}

// GenerateDefault returns the default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Validate ensures the workflow graph is internally consistent: every
// transition target exists, every target sub-status is declared on its
// stage, and every override references a declared pair. A config that
// fails here is a deployment error, not a runtime fault.
func (c *Config) Validate() error {
	switch c.Engine.Mode {
	case "", "graph", "linear":
	default:
		return fmt.Errorf("engine.mode must be graph or linear, got %q", c.Engine.Mode)
	}
	if len(c.Workflow.Stages) == 0 {
		return fmt.Errorf("workflow.stages is required")
	}
	if c.Workflow.Root == "" {
		return fmt.Errorf("workflow.root is required")
	}
	if _, ok := c.Workflow.Stages[c.Workflow.Root]; !ok {
		return fmt.Errorf("workflow.root %s is not a declared stage", c.Workflow.Root)
	}
	for key, st := range c.Workflow.Stages {
		if st.Role == "" {
			return fmt.Errorf("stage %s has no owning role", key)
		}
		if len(st.SubStatuses) == 0 {
			return fmt.Errorf("stage %s declares no sub-statuses", key)
		}
		for _, f := range st.Fields {
			if err := validateField(key, f); err != nil {
				return err
			}
		}
		for _, tr := range st.Transitions {
			if err := c.validateTransition(key, tr); err != nil {
				return err
			}
		}
	}
	for _, o := range c.Workflow.ActiveRoleOverrides {
		if o.Role == "" || o.SubStatus == "" {
			return fmt.Errorf("active_role_overrides entries need sub_status and role")
		}
		if o.Stage != "" {
			st, ok := c.Workflow.Stages[o.Stage]
			if !ok {
				return fmt.Errorf("override references unknown stage %s", o.Stage)
			}
			if !contains(st.SubStatuses, o.SubStatus) {
				return fmt.Errorf("override sub-status %q not declared on stage %s", o.SubStatus, o.Stage)
			}
		}
	}
	for _, e := range c.Workflow.ResponseEdges {
		st, ok := c.Workflow.Stages[e.Stage]
		if !ok {
			return fmt.Errorf("response edge references unknown stage %s", e.Stage)
		}
		if !contains(st.SubStatuses, e.SubStatus) {
			return fmt.Errorf("response edge sub-status %q not declared on stage %s", e.SubStatus, e.Stage)
		}
		if err := c.validateTransition(e.Stage, e.Transition); err != nil {
			return err
		}
	}
	for _, a := range c.Workflow.Annotations {
		st, ok := c.Workflow.Stages[a.Stage]
		if !ok {
			return fmt.Errorf("annotation references unknown stage %s", a.Stage)
		}
		found := false
		for _, f := range st.Fields {
			if f.Name == a.Field {
				if f.Type != "number" {
					return fmt.Errorf("annotation on %s.%s requires a number field", a.Stage, a.Field)
				}
				found = true
			}
		}
		if !found {
			return fmt.Errorf("annotation references unknown field %s.%s", a.Stage, a.Field)
		}
		if a.Remark == "" {
			return fmt.Errorf("annotation on %s.%s has empty remark", a.Stage, a.Field)
		}
	}
	if c.Workflow.Drop.Stage != "" {
		st, ok := c.Workflow.Stages[c.Workflow.Drop.Stage]
		if !ok {
			return fmt.Errorf("drop stage %s is not declared", c.Workflow.Drop.Stage)
		}
		if c.Workflow.Drop.SubStatus != "" && !contains(st.SubStatuses, c.Workflow.Drop.SubStatus) {
			return fmt.Errorf("drop sub-status %q not declared on stage %s", c.Workflow.Drop.SubStatus, c.Workflow.Drop.Stage)
		}
	}
	if c.Workflow.TerminalStage != "" {
		if _, ok := c.Workflow.Stages[c.Workflow.TerminalStage]; !ok {
			return fmt.Errorf("terminal stage %s is not declared", c.Workflow.TerminalStage)
		}
	}
	if len(c.Steps) > 0 {
		for n := 1; n <= len(c.Steps); n++ {
			st, ok := c.Steps[n]
			if !ok {
				return fmt.Errorf("steps must be contiguous from 1; step %d missing", n)
			}
			if st.Role == "" {
				return fmt.Errorf("step %d has no role", n)
			}
			for _, f := range st.Fields {
				if err := validateField(fmt.Sprintf("step %d", n), f); err != nil {
					return err
				}
			}
			if st.DropWhen != nil {
				if st.DropWhen.Field == "" || st.DropWhen.Value == "" {
					return fmt.Errorf("step %d drop_when needs field and value", n)
				}
				found := false
				for _, f := range st.Fields {
					if f.Name == st.DropWhen.Field {
						found = true
					}
				}
				if !found {
					return fmt.Errorf("step %d drop_when references unknown field %s", n, st.DropWhen.Field)
				}
			}
		}
	}
	return nil
}

func (c *Config) validateTransition(from string, tr Transition) error {
	if tr.TargetStage == "" {
		return fmt.Errorf("stage %s has a transition with no target stage", from)
	}
	target, ok := c.Workflow.Stages[tr.TargetStage]
	if !ok {
		return fmt.Errorf("stage %s transition %q targets unknown stage %s", from, tr.Label, tr.TargetStage)
	}
	if tr.TargetSubStatus != "" && !contains(target.SubStatuses, tr.TargetSubStatus) {
		return fmt.Errorf("stage %s transition %q targets undeclared sub-status %q on %s", from, tr.Label, tr.TargetSubStatus, tr.TargetStage)
	}
	return nil
}

func validateField(where string, f Field) error {
	if f.Name == "" {
		return fmt.Errorf("%s has a field with no name", where)
	}
	if !fieldTypes[f.Type] {
		return fmt.Errorf("%s field %s has invalid type %q", where, f.Name, f.Type)
	}
	if f.Type == "select" && len(f.Options) == 0 {
		return fmt.Errorf("%s select field %s has no options", where, f.Name)
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

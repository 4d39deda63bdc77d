package workflow

import (
	"fmt"
	"strconv"

	"leasetrack/internal/config"
	"leasetrack/internal/domain"
)

// FieldError reports the first field that failed submission validation.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %s: %s", e.Field, e.Reason)
}

type pairKey struct {
	Stage     string
	SubStatus string
}

// Definition is the compiled, immutable workflow. Built once from a
// validated config; all lookups are total over declared pairs.
type Definition struct {
	cfg       *config.Config
	overrides map[pairKey]string
	responses map[pairKey]config.Transition
	maxStep   int
}

// Compile builds a Definition from cfg. cfg must already pass Validate.
func Compile(cfg *config.Config) *Definition {
	d := &Definition{
		cfg:       cfg,
		overrides: make(map[pairKey]string),
		responses: make(map[pairKey]config.Transition),
	}
	for _, o := range cfg.Workflow.ActiveRoleOverrides {
		d.overrides[pairKey{o.Stage, o.SubStatus}] = o.Role
	}
	for _, e := range cfg.Workflow.ResponseEdges {
		d.responses[pairKey{e.Stage, e.SubStatus}] = e.Transition
	}
	for n := range cfg.Steps {
		if n > d.maxStep {
			d.maxStep = n
		}
	}
	return d
}

// Mode returns the configured engine mode, defaulting to graph.
func (d *Definition) Mode() string {
	if d.cfg.Engine.Mode == "linear" {
		return "linear"
	}
	return "graph"
}

// Root returns the root stage key and its first sub-status.
func (d *Definition) Root() (stage, subStatus string) {
	stage = d.cfg.Workflow.Root
	if st, ok := d.cfg.Workflow.Stages[stage]; ok && len(st.SubStatuses) > 0 {
		subStatus = st.SubStatuses[0]
	}
	return stage, subStatus
}

// Stage returns the declared stage for key.
func (d *Definition) Stage(key string) (config.Stage, bool) {
	st, ok := d.cfg.Workflow.Stages[key]
	return st, ok
}

// Stages exposes the raw stage table for rendering.
func (d *Definition) Stages() map[string]config.Stage {
	return d.cfg.Workflow.Stages
}

// ActiveRole resolves who may act on a lead at (stage, subStatus):
// override table first, else the stage's owning role.
func (d *Definition) ActiveRole(stage, subStatus string) string {
	if r, ok := d.overrides[pairKey{stage, subStatus}]; ok {
		return r
	}
	if r, ok := d.overrides[pairKey{"", subStatus}]; ok {
		return r
	}
	if st, ok := d.cfg.Workflow.Stages[stage]; ok {
		return st.Role
	}
	return ""
}

// AllowedTransitions lists the outgoing edges for (stage, subStatus).
// A query sub-status replaces the stage's declared edges with its single
// response edge until the loop is answered.
func (d *Definition) AllowedTransitions(stage, subStatus string) []config.Transition {
	if tr, ok := d.responses[pairKey{stage, subStatus}]; ok {
		return []config.Transition{tr}
	}
	st, ok := d.cfg.Workflow.Stages[stage]
	if !ok {
		return nil
	}
	return st.Transitions
}

// FindTransition returns the declared edge from (stage, subStatus) to
// (targetStage, targetSubStatus), or false when no such edge exists.
func (d *Definition) FindTransition(stage, subStatus, targetStage, targetSubStatus string) (config.Transition, bool) {
	for _, tr := range d.AllowedTransitions(stage, subStatus) {
		if tr.TargetStage == targetStage && tr.TargetSubStatus == targetSubStatus {
			return tr, true
		}
	}
	return config.Transition{}, false
}

// ValidateSubmission checks data against the stage's field schema.
// First failure wins.
func (d *Definition) ValidateSubmission(stage string, data map[string]string) error {
	st, ok := d.cfg.Workflow.Stages[stage]
	if !ok {
		return fmt.Errorf("unknown stage %s", stage)
	}
	return validateFields(st.Fields, data)
}

// ValidateStepSubmission checks data against the numbered step's schema.
func (d *Definition) ValidateStepSubmission(step int, data map[string]string) error {
	st, ok := d.cfg.Steps[step]
	if !ok {
		return fmt.Errorf("unknown step %d", step)
	}
	return validateFields(st.Fields, data)
}

func validateFields(fields []config.Field, data map[string]string) error {
	for _, f := range fields {
		v, present := data[f.Name]
		if !present || v == "" {
			if f.Required {
				return &FieldError{Field: f.Name, Reason: "required"}
			}
			continue
		}
		switch f.Type {
		case "number":
			if _, err := strconv.ParseFloat(v, 64); err != nil {
				return &FieldError{Field: f.Name, Reason: "must be a number"}
			}
		case "select":
			ok := false
			for _, opt := range f.Options {
				if v == opt {
					ok = true
					break
				}
			}
			if !ok {
				return &FieldError{Field: f.Name, Reason: fmt.Sprintf("must be one of %v", f.Options)}
			}
		}
	}
	return nil
}

// DeriveStatus computes the lead status implied by landing on
// (targetStage, targetSubStatus). Pure; never stored independently.
func (d *Definition) DeriveStatus(targetStage, targetSubStatus string) string {
	w := d.cfg.Workflow
	if targetStage == w.Drop.Stage {
		if targetSubStatus == w.Drop.SubStatus {
			return domain.StatusDropped
		}
		return domain.StatusHold
	}
	if targetStage == w.TerminalStage {
		return domain.StatusOperational
	}
	return domain.StatusActive
}

// Annotate applies the configured annotation rules to a submission from
// stage and returns remarks with any matched rule suffixes appended.
func (d *Definition) Annotate(stage string, data map[string]string, remarks string) string {
	for _, a := range d.cfg.Workflow.Annotations {
		if a.Stage != stage {
			continue
		}
		v, ok := data[a.Field]
		if !ok {
			continue
		}
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			continue
		}
		if n > a.Above {
			if remarks != "" {
				remarks += " "
			}
			remarks += a.Remark
		}
	}
	return remarks
}

// Step returns the numbered linear step.
func (d *Definition) Step(n int) (config.Step, bool) {
	st, ok := d.cfg.Steps[n]
	return st, ok
}

// MaxStep returns the highest declared linear step, 0 when none.
func (d *Definition) MaxStep() int {
	return d.maxStep
}

// Steps exposes the raw step table for rendering.
func (d *Definition) Steps() map[int]config.Step {
	return d.cfg.Steps
}

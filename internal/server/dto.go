package server

import (
	"encoding/json"

	"leasetrack/internal/config"
	"leasetrack/internal/domain"
	"leasetrack/internal/workflow"
)

type CreateLeadRequest struct {
	Title   string            `json:"title" example:"Phoenix Mall - Ground Floor"`
	Details map[string]string `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
	Remarks string            `json:"remarks,omitempty"`
}

type TransitionRequest struct {
	TargetStage     string            `json:"target_stage" example:"Under_BT_Validation"`
	TargetSubStatus string            `json:"target_sub_status,omitempty" example:"Under BT Validation"`
	Data            map[string]string `json:"data,omitempty" jsonschema:"type=object,additionalProperties=true"`
	Remarks         string            `json:"remarks,omitempty"`
}

type StepRequest struct {
	Action  string            `json:"action" enum:"approve,reject"`
	Data    map[string]string `json:"data,omitempty" jsonschema:"type=object,additionalProperties=true"`
	Remarks string            `json:"remarks,omitempty"`
}

type DevLoginRequest struct {
	UserID string `json:"user_id" example:"u-meera"`
	Role   string `json:"role" example:"State_RE"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type WhoAmIResponse struct {
	UserID string `json:"user_id"`
	Role   string `json:"role,omitempty"`
	Source string `json:"source,omitempty"`
}

type CreateAPIKeyRequest struct {
	UserID string `json:"user_id,omitempty"`
	Name   string `json:"name,omitempty"`
}

type CreateAPIKeyResponse struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	// Key is returned once; only its hash is stored.
	Key string `json:"key"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at"`
}

type TransitionOption struct {
	Label           string `json:"label,omitempty"`
	TargetStage     string `json:"target_stage"`
	TargetSubStatus string `json:"target_sub_status,omitempty"`
	ActionRole      string `json:"action_role,omitempty"`
}

type LeadResponse struct {
	ID                 string                `json:"id"`
	Title              string                `json:"title"`
	Stage              string                `json:"stage"`
	SubStatus          string                `json:"sub_status"`
	Status             string                `json:"status"`
	CurrentStep        int                   `json:"current_step"`
	Version            int64                 `json:"version"`
	ActiveRole         string                `json:"active_role,omitempty"`
	AllowedTransitions []TransitionOption    `json:"allowed_transitions"`
	Ledger             []LedgerEntryResponse `json:"ledger"`
	CreatedBy          string                `json:"created_by"`
	CreatedAt          string                `json:"created_at"`
	UpdatedAt          string                `json:"updated_at"`
}

type LeadSummaryResponse struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Stage     string `json:"stage"`
	SubStatus string `json:"sub_status"`
	Status    string `json:"status"`
	CreatedBy string `json:"created_by"`
	CreatedAt string `json:"created_at"`
}

type LedgerEntryResponse struct {
	ID              string            `json:"id"`
	LeadID          string            `json:"lead_id"`
	StepMarker      int               `json:"step_marker,omitempty"`
	TargetStage     string            `json:"target_stage,omitempty"`
	TargetSubStatus string            `json:"target_sub_status,omitempty"`
	Data            map[string]string `json:"data,omitempty" jsonschema:"type=object,additionalProperties=true"`
	Status          string            `json:"status"`
	Remarks         string            `json:"remarks,omitempty"`
	SubmittedBy     string            `json:"submitted_by"`
	CreatedAt       string            `json:"created_at"`
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	LeadID     string `json:"lead_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type paginatedLeads struct {
	Items      []LeadSummaryResponse `json:"items"`
	NextCursor string                `json:"next_cursor,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type WorkflowFieldResponse struct {
	Name     string   `json:"name"`
	Label    string   `json:"label,omitempty"`
	Type     string   `json:"type"`
	Options  []string `json:"options,omitempty"`
	Required bool     `json:"required"`
}

type WorkflowStageResponse struct {
	Key         string                  `json:"key"`
	Label       string                  `json:"label,omitempty"`
	Role        string                  `json:"role"`
	SubStatuses []string                `json:"sub_statuses"`
	Checklist   []string                `json:"checklist,omitempty"`
	Fields      []WorkflowFieldResponse `json:"fields"`
	Transitions []TransitionOption      `json:"transitions"`
}

type WorkflowStepResponse struct {
	Step      int                     `json:"step"`
	Role      string                  `json:"role"`
	Name      string                  `json:"name,omitempty"`
	Checklist []string                `json:"checklist,omitempty"`
	Fields    []WorkflowFieldResponse `json:"fields"`
}

type WorkflowResponse struct {
	Mode   string                  `json:"mode" enum:"graph,linear"`
	Root   string                  `json:"root,omitempty"`
	Stages []WorkflowStageResponse `json:"stages,omitempty"`
	Steps  []WorkflowStepResponse  `json:"steps,omitempty"`
}

func leadResponse(l domain.Lead, def *workflow.Definition) LeadResponse {
	resp := LeadResponse{
		ID:                 l.ID,
		Title:              l.Title,
		Stage:              l.Stage,
		SubStatus:          l.SubStatus,
		Status:             l.Status,
		CurrentStep:        l.CurrentStep,
		Version:            l.Version,
		AllowedTransitions: []TransitionOption{},
		Ledger:             []LedgerEntryResponse{},
		CreatedBy:          l.CreatedBy,
		CreatedAt:          l.CreatedAt,
		UpdatedAt:          l.UpdatedAt,
	}
	if def != nil {
		resp.ActiveRole = def.ActiveRole(l.Stage, l.SubStatus)
		for _, tr := range def.AllowedTransitions(l.Stage, l.SubStatus) {
			resp.AllowedTransitions = append(resp.AllowedTransitions, transitionOption(tr))
		}
	}
	for _, entry := range l.Ledger {
		resp.Ledger = append(resp.Ledger, ledgerEntryResponse(entry))
	}
	return resp
}

func leadSummaryResponse(l domain.LeadSummary) LeadSummaryResponse {
	return LeadSummaryResponse{
		ID:        l.ID,
		Title:     l.Title,
		Stage:     l.Stage,
		SubStatus: l.SubStatus,
		Status:    l.Status,
		CreatedBy: l.CreatedBy,
		CreatedAt: l.CreatedAt,
	}
}

func ledgerEntryResponse(e domain.LedgerEntry) LedgerEntryResponse {
	resp := LedgerEntryResponse{
		ID:              e.ID,
		LeadID:          e.LeadID,
		StepMarker:      e.StepMarker,
		TargetStage:     e.TargetStage,
		TargetSubStatus: e.TargetSubStatus,
		Status:          e.Status,
		Remarks:         e.Remarks,
		SubmittedBy:     e.SubmittedBy,
		CreatedAt:       e.CreatedAt,
	}
	if e.DataJSON != nil && *e.DataJSON != "" {
		var data map[string]string
		if err := json.Unmarshal([]byte(*e.DataJSON), &data); err == nil {
			resp.Data = data
		}
	}
	return resp
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		LeadID:     e.LeadID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    e.Payload,
	}
}

func transitionOption(tr config.Transition) TransitionOption {
	return TransitionOption{
		Label:           tr.Label,
		TargetStage:     tr.TargetStage,
		TargetSubStatus: tr.TargetSubStatus,
		ActionRole:      tr.ActionRole,
	}
}

func workflowResponse(def *workflow.Definition) WorkflowResponse {
	resp := WorkflowResponse{Mode: def.Mode()}
	if resp.Mode == "linear" {
		for n := 1; n <= def.MaxStep(); n++ {
			step, ok := def.Step(n)
			if !ok {
				continue
			}
			resp.Steps = append(resp.Steps, WorkflowStepResponse{
				Step:      n,
				Role:      step.Role,
				Name:      step.Name,
				Checklist: step.Checklist,
				Fields:    fieldResponses(step.Fields),
			})
		}
		return resp
	}
	root, _ := def.Root()
	resp.Root = root
	for key, st := range def.Stages() {
		stage := WorkflowStageResponse{
			Key:         key,
			Label:       st.Label,
			Role:        st.Role,
			SubStatuses: nonNilSlice(st.SubStatuses),
			Checklist:   st.Checklist,
			Fields:      fieldResponses(st.Fields),
			Transitions: []TransitionOption{},
		}
		for _, tr := range st.Transitions {
			stage.Transitions = append(stage.Transitions, transitionOption(tr))
		}
		resp.Stages = append(resp.Stages, stage)
	}
	return resp
}

func fieldResponses(fields []config.Field) []WorkflowFieldResponse {
	resp := make([]WorkflowFieldResponse, 0, len(fields))
	for _, f := range fields {
		resp = append(resp, WorkflowFieldResponse{
			Name:     f.Name,
			Label:    f.Label,
			Type:     f.Type,
			Options:  f.Options,
			Required: f.Required,
		})
	}
	return resp
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"leasetrack/internal/domain"
	"leasetrack/internal/engine/auth"
	"leasetrack/internal/events"
	"leasetrack/internal/repo"
	"leasetrack/internal/workflow"
)

// InvalidTransitionError indicates the requested move is not a declared
// edge from the lead's current position, or the lead is finished.
type InvalidTransitionError struct {
	Reason string
}

func (e InvalidTransitionError) Error() string {
	return e.Reason
}

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Auth   auth.Service
	Def    *workflow.Definition
	Now    func() time.Time
}

func New(db *sql.DB, def *workflow.Definition) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Auth:   auth.Service{DB: db},
		Def:    def,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// CreateLeadOptions are parameters for registering a new lead.
type CreateLeadOptions struct {
	ID      string
	Title   string
	Details map[string]string
	Remarks string
	Actor   auth.Actor
}

// CreateLead registers a lead at the workflow root. Only the root
// stage's owning role (or the step-1 role in linear mode) may create.
// When initial details are supplied they are validated against the root
// schema and recorded as the first ledger entry; linear mode then
// advances to step 2, matching the intake flow.
func (e Engine) CreateLead(ctx context.Context, opts CreateLeadOptions) (domain.Lead, error) {
	if e.Def == nil {
		return domain.Lead{}, errors.New("workflow definition not loaded")
	}
	if opts.Title == "" {
		return domain.Lead{}, errors.New("title is required")
	}
	if opts.Actor.ID == "" {
		return domain.Lead{}, errors.New("actor is required")
	}
	linear := e.Def.Mode() == "linear"

	var creatorRole string
	rootStage, rootSub := e.Def.Root()
	if linear {
		step, ok := e.Def.Step(1)
		if !ok {
			return domain.Lead{}, errors.New("no steps configured")
		}
		creatorRole = step.Role
	} else {
		st, ok := e.Def.Stage(rootStage)
		if !ok {
			return domain.Lead{}, fmt.Errorf("root stage %s not configured", rootStage)
		}
		creatorRole = st.Role
	}
	if err := auth.RequireRole(opts.Actor, creatorRole); err != nil {
		return domain.Lead{}, err
	}

	if len(opts.Details) > 0 {
		var err error
		if linear {
			err = e.Def.ValidateStepSubmission(1, opts.Details)
		} else {
			err = e.Def.ValidateSubmission(rootStage, opts.Details)
		}
		if err != nil {
			return domain.Lead{}, err
		}
	}

	now := e.now().UTC().Format(time.RFC3339)
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	l := domain.Lead{
		ID:          id,
		Title:       opts.Title,
		Stage:       rootStage,
		SubStatus:   rootSub,
		Status:      domain.StatusActive,
		CurrentStep: 1,
		Version:     1,
		CreatedBy:   opts.Actor.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if linear && len(opts.Details) > 0 {
		l.CurrentStep = 2
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Lead{}, err
	}
	defer tx.Rollback()

	if err := e.Auth.EnsureUser(ctx, tx, opts.Actor.ID, opts.Actor.Role); err != nil {
		return domain.Lead{}, err
	}
	if err := e.Repo.InsertLead(ctx, tx, l); err != nil {
		return domain.Lead{}, fmt.Errorf("insert lead: %w", err)
	}
	if len(opts.Details) > 0 {
		entry := domain.LedgerEntry{
			ID:          uuid.NewString(),
			LeadID:      l.ID,
			Status:      domain.LedgerApproved,
			Remarks:     opts.Remarks,
			SubmittedBy: opts.Actor.ID,
			CreatedAt:   now,
		}
		if linear {
			entry.StepMarker = 1
		} else {
			entry.TargetStage = rootStage
			entry.TargetSubStatus = rootSub
		}
		if err := setEntryData(&entry, opts.Details); err != nil {
			return domain.Lead{}, err
		}
		if err := e.Repo.InsertLedgerEntry(ctx, tx, entry); err != nil {
			return domain.Lead{}, fmt.Errorf("insert ledger entry: %w", err)
		}
	}
	if err := e.Events.Append(ctx, tx, "lead.created", l.ID, "lead", l.ID, opts.Actor.ID, events.EventPayload{
		"stage": l.Stage, "sub_status": l.SubStatus, "status": l.Status,
	}); err != nil {
		return domain.Lead{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Lead{}, err
	}
	return l, nil
}

// TransitionOptions are parameters for a graph-mode move.
type TransitionOptions struct {
	LeadID          string
	Actor           auth.Actor
	TargetStage     string
	TargetSubStatus string
	Data            map[string]string
	Remarks         string
	Force           bool
}

// Transition moves a lead along a declared edge. The actor must hold
// the active role for the lead's current position, the submitted data
// must satisfy the current stage's schema, and the target must be a
// declared outgoing edge. Admins may set Force to bypass the edge check
// and finished-lead refusal. The update is conditioned on the version
// read in this transaction; a concurrent writer surfaces as ErrStale.
func (e Engine) Transition(ctx context.Context, opts TransitionOptions) (domain.Lead, error) {
	if e.Def == nil {
		return domain.Lead{}, errors.New("workflow definition not loaded")
	}
	if opts.Actor.ID == "" {
		return domain.Lead{}, errors.New("actor is required")
	}
	if opts.TargetStage == "" {
		return domain.Lead{}, errors.New("target stage is required")
	}
	force := opts.Force && opts.Actor.IsAdmin()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Lead{}, err
	}
	defer tx.Rollback()

	l, err := e.Repo.GetLeadTx(ctx, tx, opts.LeadID)
	if err != nil {
		return domain.Lead{}, err
	}
	if !force && (l.Status == domain.StatusDropped || l.Status == domain.StatusRejected || l.Status == domain.StatusApproved) {
		return domain.Lead{}, InvalidTransitionError{Reason: fmt.Sprintf("lead is %s and cannot move", l.Status)}
	}

	required := e.Def.ActiveRole(l.Stage, l.SubStatus)
	if err := auth.RequireRole(opts.Actor, required); err != nil {
		return domain.Lead{}, err
	}

	if err := e.Def.ValidateSubmission(l.Stage, opts.Data); err != nil {
		return domain.Lead{}, err
	}

	if !force {
		if _, ok := e.Def.FindTransition(l.Stage, l.SubStatus, opts.TargetStage, opts.TargetSubStatus); !ok {
			return domain.Lead{}, InvalidTransitionError{
				Reason: fmt.Sprintf("no transition from %s / %s to %s / %s", l.Stage, l.SubStatus, opts.TargetStage, opts.TargetSubStatus),
			}
		}
	} else {
		if _, ok := e.Def.Stage(opts.TargetStage); !ok {
			return domain.Lead{}, InvalidTransitionError{Reason: fmt.Sprintf("unknown stage %s", opts.TargetStage)}
		}
	}

	now := e.now().UTC().Format(time.RFC3339)
	remarks := e.Def.Annotate(l.Stage, opts.Data, opts.Remarks)

	prevVersion := l.Version
	l.Stage = opts.TargetStage
	l.SubStatus = opts.TargetSubStatus
	l.Status = e.Def.DeriveStatus(opts.TargetStage, opts.TargetSubStatus)
	l.Version = prevVersion + 1
	l.UpdatedAt = now

	if err := e.Auth.EnsureUser(ctx, tx, opts.Actor.ID, opts.Actor.Role); err != nil {
		return domain.Lead{}, err
	}
	if err := e.Repo.UpdateLeadTx(ctx, tx, l, prevVersion); err != nil {
		return domain.Lead{}, err
	}

	entry := domain.LedgerEntry{
		ID:              uuid.NewString(),
		LeadID:          l.ID,
		TargetStage:     opts.TargetStage,
		TargetSubStatus: opts.TargetSubStatus,
		Status:          domain.LedgerApproved,
		Remarks:         remarks,
		SubmittedBy:     opts.Actor.ID,
		CreatedAt:       now,
	}
	if err := setEntryData(&entry, opts.Data); err != nil {
		return domain.Lead{}, err
	}
	if err := e.Repo.InsertLedgerEntry(ctx, tx, entry); err != nil {
		return domain.Lead{}, fmt.Errorf("insert ledger entry: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "lead.transitioned", l.ID, "lead", l.ID, opts.Actor.ID, events.EventPayload{
		"stage": l.Stage, "sub_status": l.SubStatus, "status": l.Status, "forced": force,
	}); err != nil {
		return domain.Lead{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Lead{}, err
	}
	return e.GetLead(ctx, l.ID)
}

// StepOptions are parameters for a linear-mode submission.
type StepOptions struct {
	LeadID  string
	Actor   auth.Actor
	Step    int
	Action  string // approve or reject
	Data    map[string]string
	Remarks string
	Force   bool
}

// SubmitStep records an approve/reject decision for the lead's current
// numbered step. Approval advances one step (final step marks the lead
// Approved); rejection moves one step back, or marks the lead Rejected
// at step 1. A step's drop rule can short-circuit an approved lead to
// Dropped.
func (e Engine) SubmitStep(ctx context.Context, opts StepOptions) (domain.Lead, error) {
	if e.Def == nil {
		return domain.Lead{}, errors.New("workflow definition not loaded")
	}
	if e.Def.MaxStep() == 0 {
		return domain.Lead{}, errors.New("no steps configured")
	}
	if opts.Actor.ID == "" {
		return domain.Lead{}, errors.New("actor is required")
	}
	if opts.Action != "approve" && opts.Action != "reject" {
		return domain.Lead{}, fmt.Errorf("action must be approve or reject, got %q", opts.Action)
	}
	step, ok := e.Def.Step(opts.Step)
	if !ok {
		return domain.Lead{}, fmt.Errorf("unknown step %d", opts.Step)
	}
	force := opts.Force && opts.Actor.IsAdmin()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Lead{}, err
	}
	defer tx.Rollback()

	l, err := e.Repo.GetLeadTx(ctx, tx, opts.LeadID)
	if err != nil {
		return domain.Lead{}, err
	}
	if !force && l.Status != domain.StatusActive && l.Status != domain.StatusHold {
		return domain.Lead{}, InvalidTransitionError{Reason: fmt.Sprintf("lead is %s and cannot move", l.Status)}
	}
	if opts.Step != l.CurrentStep && !opts.Actor.IsAdmin() {
		return domain.Lead{}, InvalidTransitionError{
			Reason: fmt.Sprintf("lead is at step %d, not %d", l.CurrentStep, opts.Step),
		}
	}
	if err := auth.RequireRole(opts.Actor, step.Role); err != nil {
		return domain.Lead{}, err
	}

	now := e.now().UTC().Format(time.RFC3339)
	prevVersion := l.Version
	entryStatus := domain.LedgerRejected

	if opts.Action == "reject" {
		if opts.Step <= 1 {
			l.Status = domain.StatusRejected
		} else {
			l.CurrentStep = opts.Step - 1
			l.Status = domain.StatusActive
		}
	} else {
		if err := e.Def.ValidateStepSubmission(opts.Step, opts.Data); err != nil {
			return domain.Lead{}, err
		}
		entryStatus = domain.LedgerApproved
		if opts.Step < e.Def.MaxStep() {
			// The step advances even when a drop rule fires; the record
			// keeps the position the lead reached before it was killed.
			l.CurrentStep = opts.Step + 1
			l.Status = domain.StatusActive
			if step.DropWhen != nil && opts.Data[step.DropWhen.Field] == step.DropWhen.Value {
				l.Status = domain.StatusDropped
			}
		} else {
			l.Status = domain.StatusApproved
		}
	}
	l.Version = prevVersion + 1
	l.UpdatedAt = now

	if err := e.Auth.EnsureUser(ctx, tx, opts.Actor.ID, opts.Actor.Role); err != nil {
		return domain.Lead{}, err
	}
	if err := e.Repo.UpdateLeadTx(ctx, tx, l, prevVersion); err != nil {
		return domain.Lead{}, err
	}

	entry := domain.LedgerEntry{
		ID:          uuid.NewString(),
		LeadID:      l.ID,
		StepMarker:  opts.Step,
		Status:      entryStatus,
		Remarks:     opts.Remarks,
		SubmittedBy: opts.Actor.ID,
		CreatedAt:   now,
	}
	if err := setEntryData(&entry, opts.Data); err != nil {
		return domain.Lead{}, err
	}
	if err := e.Repo.InsertLedgerEntry(ctx, tx, entry); err != nil {
		return domain.Lead{}, fmt.Errorf("insert ledger entry: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "lead.step_submitted", l.ID, "lead", l.ID, opts.Actor.ID, events.EventPayload{
		"step": opts.Step, "action": opts.Action, "status": l.Status, "current_step": l.CurrentStep,
	}); err != nil {
		return domain.Lead{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Lead{}, err
	}
	return e.GetLead(ctx, l.ID)
}

// GetLead returns a lead with its full ledger attached.
func (e Engine) GetLead(ctx context.Context, id string) (domain.Lead, error) {
	l, err := e.Repo.GetLead(ctx, id)
	if err != nil {
		return domain.Lead{}, err
	}
	entries, err := e.Repo.ListLedgerEntries(ctx, id)
	if err != nil {
		return domain.Lead{}, err
	}
	l.Ledger = entries
	return l, nil
}

// ListLeads returns lead summaries matching the filters.
func (e Engine) ListLeads(ctx context.Context, f repo.LeadFilters) ([]domain.LeadSummary, error) {
	return e.Repo.ListLeads(ctx, f)
}

func setEntryData(entry *domain.LedgerEntry, data map[string]string) error {
	if len(data) == 0 {
		return nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal submission data: %w", err)
	}
	s := string(raw)
	entry.DataJSON = &s
	return nil
}

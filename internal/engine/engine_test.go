package engine_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"leasetrack/internal/config"
	"leasetrack/internal/db"
	"leasetrack/internal/domain"
	"leasetrack/internal/engine"
	"leasetrack/internal/engine/auth"
	"leasetrack/internal/migrate"
	"leasetrack/internal/repo"
	"leasetrack/internal/workflow"
)

var (
	stateRE = auth.Actor{ID: "u-state-re", Role: "State_RE"}
	bt      = auth.Actor{ID: "u-bt", Role: "BT"}
	legal   = auth.Actor{ID: "u-legal", Role: "Legal"}
	admin   = auth.Actor{ID: "u-admin", Role: domain.RoleAdmin}

	siteREL = auth.Actor{ID: "u-lt", Role: "State_RE_LT"}
	epc     = auth.Actor{ID: "u-epc", Role: "EPC"}
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T, mode string) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	cfg.Engine.Mode = mode
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config: %v", err)
	}
	eng := engine.New(conn, workflow.Compile(cfg))
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func optionDetails() map[string]string {
	return map[string]string{
		"location_coordinates": "12.97,77.59",
		"carpet_area":          "1500",
		"photos":               "site-photos.zip",
	}
}

func mustCreate(t *testing.T, env testEnv, actor auth.Actor, details map[string]string) domain.Lead {
	t.Helper()
	l, err := env.Engine.CreateLead(env.Ctx, engine.CreateLeadOptions{
		Title:   "HSR Layout corner plot",
		Details: details,
		Actor:   actor,
	})
	if err != nil {
		t.Fatalf("create lead: %v", err)
	}
	return l
}

func TestCreateLeadRoleGate(t *testing.T) {
	env := newTestEnv(t, "graph")

	_, err := env.Engine.CreateLead(env.Ctx, engine.CreateLeadOptions{Title: "x", Actor: legal})
	var ue auth.UnauthorizedError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UnauthorizedError, got %v", err)
	}
	if ue.RequiredRole != "State_RE" {
		t.Fatalf("required role = %s, want State_RE", ue.RequiredRole)
	}

	if _, err := env.Engine.CreateLead(env.Ctx, engine.CreateLeadOptions{Title: "x", Actor: admin}); err != nil {
		t.Fatalf("admin create: %v", err)
	}
}

func TestCreateLeadWithDetails(t *testing.T) {
	env := newTestEnv(t, "graph")
	l := mustCreate(t, env, stateRE, optionDetails())

	if l.Stage != "Option_Identified" || l.SubStatus != "Option Identified" {
		t.Fatalf("lead not at root: %s / %s", l.Stage, l.SubStatus)
	}
	if l.Status != domain.StatusActive || l.Version != 1 {
		t.Fatalf("unexpected status %s version %d", l.Status, l.Version)
	}

	got, err := env.Engine.GetLead(env.Ctx, l.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Ledger) != 1 {
		t.Fatalf("expected 1 ledger entry, got %d", len(got.Ledger))
	}
	entry := got.Ledger[0]
	if entry.Status != domain.LedgerApproved || entry.TargetStage != "Option_Identified" {
		t.Fatalf("unexpected first entry: %+v", entry)
	}
	if entry.DataJSON == nil || !strings.Contains(*entry.DataJSON, "carpet_area") {
		t.Fatalf("submission data not recorded: %+v", entry)
	}
}

func TestCreateLeadInvalidDetails(t *testing.T) {
	env := newTestEnv(t, "graph")
	_, err := env.Engine.CreateLead(env.Ctx, engine.CreateLeadOptions{
		Title:   "x",
		Details: map[string]string{"location_coordinates": "here", "carpet_area": "big", "photos": "p"},
		Actor:   stateRE,
	})
	var fe *workflow.FieldError
	if !errors.As(err, &fe) || fe.Field != "carpet_area" {
		t.Fatalf("expected number error on carpet_area, got %v", err)
	}
}

func TestTransitionHappyPath(t *testing.T) {
	env := newTestEnv(t, "graph")
	l := mustCreate(t, env, stateRE, optionDetails())

	l, err := env.Engine.Transition(env.Ctx, engine.TransitionOptions{
		LeadID:          l.ID,
		Actor:           stateRE,
		TargetStage:     "Under_BT_Validation",
		TargetSubStatus: "Under BT Validation",
		Data:            optionDetails(),
		Remarks:         "ready for BT",
	})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if l.Stage != "Under_BT_Validation" || l.Version != 2 {
		t.Fatalf("lead = %s v%d, want Under_BT_Validation v2", l.Stage, l.Version)
	}

	l, err = env.Engine.Transition(env.Ctx, engine.TransitionOptions{
		LeadID:          l.ID,
		Actor:           bt,
		TargetStage:     "Under_Negotiation",
		TargetSubStatus: "Under Negotiation",
		Data:            map[string]string{"sales_projection": "250000"},
	})
	if err != nil {
		t.Fatalf("second transition: %v", err)
	}
	if l.Stage != "Under_Negotiation" || l.Status != domain.StatusActive || l.Version != 3 {
		t.Fatalf("lead = %s %s v%d", l.Stage, l.Status, l.Version)
	}
	if len(l.Ledger) != 3 {
		t.Fatalf("expected 3 ledger entries, got %d", len(l.Ledger))
	}
}

func TestTransitionWrongRoleDoesNotMutate(t *testing.T) {
	env := newTestEnv(t, "graph")
	l := mustCreate(t, env, stateRE, nil)

	_, err := env.Engine.Transition(env.Ctx, engine.TransitionOptions{
		LeadID:          l.ID,
		Actor:           bt,
		TargetStage:     "Under_BT_Validation",
		TargetSubStatus: "Under BT Validation",
		Data:            optionDetails(),
	})
	var ue auth.UnauthorizedError
	if !errors.As(err, &ue) || ue.RequiredRole != "State_RE" {
		t.Fatalf("expected UnauthorizedError for State_RE, got %v", err)
	}

	got, err := env.Engine.GetLead(env.Ctx, l.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Stage != "Option_Identified" || got.Version != 1 || len(got.Ledger) != 0 {
		t.Fatalf("refused transition mutated lead: %+v", got)
	}
}

func TestTransitionMissingRequiredField(t *testing.T) {
	env := newTestEnv(t, "graph")
	l := mustCreate(t, env, stateRE, nil)

	_, err := env.Engine.Transition(env.Ctx, engine.TransitionOptions{
		LeadID:          l.ID,
		Actor:           stateRE,
		TargetStage:     "Under_BT_Validation",
		TargetSubStatus: "Under BT Validation",
		Data:            map[string]string{"location_coordinates": "here"},
	})
	var fe *workflow.FieldError
	if !errors.As(err, &fe) || fe.Field != "carpet_area" {
		t.Fatalf("expected required error on carpet_area, got %v", err)
	}
}

func TestTransitionUndeclaredEdge(t *testing.T) {
	env := newTestEnv(t, "graph")
	l := mustCreate(t, env, stateRE, nil)

	_, err := env.Engine.Transition(env.Ctx, engine.TransitionOptions{
		LeadID:          l.ID,
		Actor:           stateRE,
		TargetStage:     "Operational",
		TargetSubStatus: "Operational",
		Data:            optionDetails(),
	})
	var ite engine.InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
}

func TestDroppedLeadRefusesMoves(t *testing.T) {
	env := newTestEnv(t, "graph")
	l := mustCreate(t, env, stateRE, nil)

	l, err := env.Engine.Transition(env.Ctx, engine.TransitionOptions{
		LeadID: l.ID, Actor: stateRE,
		TargetStage: "Under_BT_Validation", TargetSubStatus: "Under BT Validation",
		Data: optionDetails(),
	})
	if err != nil {
		t.Fatal(err)
	}
	l, err = env.Engine.Transition(env.Ctx, engine.TransitionOptions{
		LeadID: l.ID, Actor: bt,
		TargetStage: "Watchlist", TargetSubStatus: "To be dropped",
		Data: map[string]string{"sales_projection": "10"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if l.Status != domain.StatusDropped {
		t.Fatalf("status = %s, want Dropped", l.Status)
	}

	_, err = env.Engine.Transition(env.Ctx, engine.TransitionOptions{
		LeadID: l.ID, Actor: bt,
		TargetStage: "Under_BT_Validation", TargetSubStatus: "Under BT Validation",
	})
	var ite engine.InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected refusal on dropped lead, got %v", err)
	}

	// Only an admin may force a dropped lead back into play.
	l, err = env.Engine.Transition(env.Ctx, engine.TransitionOptions{
		LeadID: l.ID, Actor: admin,
		TargetStage: "Under_BT_Validation", TargetSubStatus: "Under BT Validation",
		Force: true,
	})
	if err != nil {
		t.Fatalf("forced revive: %v", err)
	}
	if l.Status != domain.StatusActive {
		t.Fatalf("status after revive = %s", l.Status)
	}
}

func TestQueryLoopHandsRoleBackAndForth(t *testing.T) {
	env := newTestEnv(t, "graph")
	l := mustCreate(t, env, stateRE, nil)

	l, err := env.Engine.Transition(env.Ctx, engine.TransitionOptions{
		LeadID: l.ID, Actor: stateRE,
		TargetStage: "Under_BT_Validation", TargetSubStatus: "Under BT Validation",
		Data: optionDetails(),
	})
	if err != nil {
		t.Fatal(err)
	}

	// BT raises a query back to the field team.
	l, err = env.Engine.Transition(env.Ctx, engine.TransitionOptions{
		LeadID: l.ID, Actor: bt,
		TargetStage: "Under_BT_Validation", TargetSubStatus: "LT to revert on BT query",
		Data: map[string]string{"sales_projection": "90000"},
	})
	if err != nil {
		t.Fatal(err)
	}

	// While queried, BT may not act; the field team answers instead.
	_, err = env.Engine.Transition(env.Ctx, engine.TransitionOptions{
		LeadID: l.ID, Actor: bt,
		TargetStage: "Under_BT_Validation", TargetSubStatus: "Under BT Validation",
		Data: map[string]string{"sales_projection": "90000"},
	})
	var ue auth.UnauthorizedError
	if !errors.As(err, &ue) || ue.RequiredRole != "State_RE" {
		t.Fatalf("expected State_RE gate during query, got %v", err)
	}

	l, err = env.Engine.Transition(env.Ctx, engine.TransitionOptions{
		LeadID: l.ID, Actor: stateRE,
		TargetStage: "Under_BT_Validation", TargetSubStatus: "Under BT Validation",
		Data: map[string]string{"sales_projection": "95000"},
	})
	if err != nil {
		t.Fatalf("query response: %v", err)
	}
	if l.SubStatus != "Under BT Validation" {
		t.Fatalf("sub-status = %s", l.SubStatus)
	}
}

func TestHighRentAnnotation(t *testing.T) {
	env := newTestEnv(t, "graph")
	l := mustCreate(t, env, stateRE, nil)

	l, err := env.Engine.Transition(env.Ctx, engine.TransitionOptions{
		LeadID: l.ID, Actor: stateRE,
		TargetStage: "Under_BT_Validation", TargetSubStatus: "Under BT Validation",
		Data: optionDetails(),
	})
	if err != nil {
		t.Fatal(err)
	}
	l, err = env.Engine.Transition(env.Ctx, engine.TransitionOptions{
		LeadID: l.ID, Actor: bt,
		TargetStage: "Under_Negotiation", TargetSubStatus: "Under Negotiation",
		Data: map[string]string{"sales_projection": "250000"},
	})
	if err != nil {
		t.Fatal(err)
	}

	l, err = env.Engine.Transition(env.Ctx, engine.TransitionOptions{
		LeadID: l.ID, Actor: stateRE,
		TargetStage: "Under_BT_Approvals", TargetSubStatus: "Business feasibility pending",
		Data:    map[string]string{"negotiated_rent": "750000"},
		Remarks: "landlord firm on rate",
	})
	if err != nil {
		t.Fatal(err)
	}
	last := l.Ledger[len(l.Ledger)-1]
	if !strings.Contains(last.Remarks, "High Rent Alert") {
		t.Fatalf("expected high-rent remark, got %q", last.Remarks)
	}
	if !strings.Contains(last.Remarks, "landlord firm on rate") {
		t.Fatalf("original remark lost: %q", last.Remarks)
	}
}

func TestStaleVersionRejected(t *testing.T) {
	env := newTestEnv(t, "graph")
	l := mustCreate(t, env, stateRE, nil)

	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()

	l.Version = 5
	err = env.Engine.Repo.UpdateLeadTx(env.Ctx, tx, l, 4)
	if !errors.Is(err, repo.ErrStale) {
		t.Fatalf("expected ErrStale, got %v", err)
	}
}

// Linear mode.

func TestLinearIntakeAdvancesToStepTwo(t *testing.T) {
	env := newTestEnv(t, "linear")
	l := mustCreate(t, env, siteREL, map[string]string{
		"address": "12 MG Road", "city": "Pune", "area_sqft": "1800", "asking_rent": "200000",
	})
	if l.CurrentStep != 2 {
		t.Fatalf("current step = %d, want 2", l.CurrentStep)
	}

	got, err := env.Engine.GetLead(env.Ctx, l.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Ledger) != 1 || got.Ledger[0].StepMarker != 1 {
		t.Fatalf("unexpected intake ledger: %+v", got.Ledger)
	}
}

func TestLinearApproveAndReject(t *testing.T) {
	env := newTestEnv(t, "linear")
	l := mustCreate(t, env, siteREL, map[string]string{
		"address": "12 MG Road", "city": "Pune", "area_sqft": "1800", "asking_rent": "200000",
	})

	l, err := env.Engine.SubmitStep(env.Ctx, engine.StepOptions{
		LeadID: l.ID, Actor: bt, Step: 2, Action: "approve",
		Data: map[string]string{"feasibility": "Yes", "sales_projection": "300000", "format_suitability": "good"},
	})
	if err != nil {
		t.Fatalf("approve step 2: %v", err)
	}
	if l.CurrentStep != 3 || l.Status != domain.StatusActive {
		t.Fatalf("lead at step %d status %s", l.CurrentStep, l.Status)
	}

	l, err = env.Engine.SubmitStep(env.Ctx, engine.StepOptions{
		LeadID: l.ID, Actor: epc, Step: 3, Action: "reject", Remarks: "power load unclear",
	})
	if err != nil {
		t.Fatalf("reject step 3: %v", err)
	}
	if l.CurrentStep != 2 || l.Status != domain.StatusActive {
		t.Fatalf("lead at step %d status %s after reject", l.CurrentStep, l.Status)
	}
	last := l.Ledger[len(l.Ledger)-1]
	if last.Status != domain.LedgerRejected || last.StepMarker != 3 {
		t.Fatalf("unexpected reject entry: %+v", last)
	}
}

func TestLinearRejectAtStepOneKillsLead(t *testing.T) {
	env := newTestEnv(t, "linear")
	l := mustCreate(t, env, siteREL, nil)

	l, err := env.Engine.SubmitStep(env.Ctx, engine.StepOptions{
		LeadID: l.ID, Actor: siteREL, Step: 1, Action: "reject",
	})
	if err != nil {
		t.Fatal(err)
	}
	if l.Status != domain.StatusRejected {
		t.Fatalf("status = %s, want Rejected", l.Status)
	}
}

func TestLinearFeasibilityNoDropsLead(t *testing.T) {
	env := newTestEnv(t, "linear")
	l := mustCreate(t, env, siteREL, map[string]string{
		"address": "12 MG Road", "city": "Pune", "area_sqft": "1800", "asking_rent": "200000",
	})

	l, err := env.Engine.SubmitStep(env.Ctx, engine.StepOptions{
		LeadID: l.ID, Actor: bt, Step: 2, Action: "approve",
		Data: map[string]string{"feasibility": "No", "sales_projection": "50000", "format_suitability": "poor"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if l.Status != domain.StatusDropped {
		t.Fatalf("status = %s, want Dropped", l.Status)
	}
	// The step still advances; the record keeps the position reached
	// before the kill.
	if l.CurrentStep != 3 {
		t.Fatalf("current step = %d, want 3", l.CurrentStep)
	}
}

func TestLinearWrongStepRefused(t *testing.T) {
	env := newTestEnv(t, "linear")
	l := mustCreate(t, env, siteREL, nil)

	_, err := env.Engine.SubmitStep(env.Ctx, engine.StepOptions{
		LeadID: l.ID, Actor: epc, Step: 3, Action: "approve",
	})
	var ite engine.InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected wrong-step refusal, got %v", err)
	}
}

func TestLinearFinalApprovalByAdmin(t *testing.T) {
	env := newTestEnv(t, "linear")
	l := mustCreate(t, env, siteREL, nil)

	// Admins may submit out of order.
	l, err := env.Engine.SubmitStep(env.Ctx, engine.StepOptions{
		LeadID: l.ID, Actor: admin, Step: 11, Action: "approve",
		Data: map[string]string{
			"rent_start_date":   "2024-02-01",
			"registration_link": "https://docs.example/reg/42",
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if l.Status != domain.StatusApproved {
		t.Fatalf("status = %s, want Approved", l.Status)
	}
}

func TestMutationsRecordActingUser(t *testing.T) {
	env := newTestEnv(t, "graph")
	l := mustCreate(t, env, stateRE, nil)

	u, err := env.Engine.Repo.GetUser(env.Ctx, stateRE.ID)
	if err != nil {
		t.Fatalf("creator not recorded: %v", err)
	}
	if u.Role != "State_RE" {
		t.Fatalf("recorded role = %s", u.Role)
	}

	if _, err := env.Engine.Transition(env.Ctx, engine.TransitionOptions{
		LeadID: l.ID, Actor: stateRE,
		TargetStage: "Under_BT_Validation", TargetSubStatus: "Under BT Validation",
		Data: optionDetails(),
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Transition(env.Ctx, engine.TransitionOptions{
		LeadID: l.ID, Actor: bt,
		TargetStage: "Under_Negotiation", TargetSubStatus: "Under Negotiation",
		Data: map[string]string{"sales_projection": "250000"},
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Repo.GetUser(env.Ctx, bt.ID); err != nil {
		t.Fatalf("transition actor not recorded: %v", err)
	}
}

func TestConcurrentTransitionSingleWinner(t *testing.T) {
	env := newTestEnv(t, "graph")
	l := mustCreate(t, env, stateRE, nil)

	// Two clients act on the same snapshot; the second submission runs
	// against the state the first one committed.
	snapshot, err := env.Engine.GetLead(env.Ctx, l.ID)
	if err != nil {
		t.Fatal(err)
	}

	winner, err := env.Engine.Transition(env.Ctx, engine.TransitionOptions{
		LeadID: snapshot.ID, Actor: stateRE,
		TargetStage: "Under_BT_Validation", TargetSubStatus: "Under BT Validation",
		Data: optionDetails(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if winner.Version != snapshot.Version+1 {
		t.Fatalf("winner version = %d", winner.Version)
	}

	_, err = env.Engine.Transition(env.Ctx, engine.TransitionOptions{
		LeadID: snapshot.ID, Actor: stateRE,
		TargetStage: "Under_BT_Validation", TargetSubStatus: "Under BT Validation",
		Data: optionDetails(),
	})
	if err == nil {
		t.Fatal("second writer should lose")
	}

	got, err := env.Engine.GetLead(env.Ctx, l.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Version != 2 || len(got.Ledger) != 1 {
		t.Fatalf("lead advanced more than once: v%d, %d entries", got.Version, len(got.Ledger))
	}
}

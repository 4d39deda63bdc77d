package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"leasetrack/internal/config"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("built-in config invalid: %v", err)
	}
	if cfg.Workflow.Root != "Option_Identified" {
		t.Fatalf("unexpected root %s", cfg.Workflow.Root)
	}
	if len(cfg.Steps) != 11 {
		t.Fatalf("expected 11 steps, got %d", len(cfg.Steps))
	}
}

func TestGenerateDefaultRoundTrips(t *testing.T) {
	cfg, err := config.FromYAML([]byte(config.GenerateDefault()))
	if err != nil {
		t.Fatalf("generated template failed to parse: %v", err)
	}
	if cfg.Engine.Mode != "graph" {
		t.Fatalf("unexpected mode %q", cfg.Engine.Mode)
	}
}

func TestLoadOptionalMissingFile(t *testing.T) {
	cfg, err := config.LoadOptional(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg != nil {
		t.Fatal("expected nil config for missing file")
	}
}

func TestLoadReadsWorkspaceFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "leasetrack.yml")
	if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Workflow.TerminalStage != "Operational" {
		t.Fatalf("unexpected terminal stage %s", cfg.Workflow.TerminalStage)
	}
}

func TestDefaultPipelineData(t *testing.T) {
	cfg := config.Default()

	// Every intake and diligence field the pipeline depends on is
	// enforced server-side.
	requiredSteps := map[int][]string{
		3:  {"sdr_report_link", "power_load", "structural_status"},
		4:  {"is_viable", "nhq_remarks"},
		5:  {"final_rent", "term_sheet_link"},
		7:  {"capex_amount", "p_and_l_link", "apex_status"},
		9:  {"ldd_status", "agreement_type"},
		10: {"possession_date", "launch_date"},
		11: {"rent_start_date", "registration_link"},
	}
	for n, names := range requiredSteps {
		step := cfg.Steps[n]
		required := map[string]bool{}
		for _, f := range step.Fields {
			required[f.Name] = f.Required
		}
		for _, name := range names {
			if !required[name] {
				t.Errorf("step %d field %s should be required", n, name)
			}
		}
	}

	for n := 1; n <= 11; n++ {
		if len(cfg.Steps[n].Checklist) == 0 {
			t.Errorf("step %d has no checklist", n)
		}
	}

	acq := cfg.Workflow.Stages["Under_Acquisition"]
	wantAcq := []string{
		"Under Legal Due Diligence", "Under LOI / Agreement", "LOI / MOU signed",
		"Under Owner SOW completion", "ATL signed", "Agreement registered", "RFC Offered",
	}
	if len(acq.SubStatuses) != len(wantAcq) {
		t.Fatalf("Under_Acquisition sub-statuses = %v", acq.SubStatuses)
	}
	for i, s := range wantAcq {
		if acq.SubStatuses[i] != s {
			t.Errorf("Under_Acquisition[%d] = %q, want %q", i, acq.SubStatuses[i], s)
		}
	}

	rfc := cfg.Workflow.Stages["RFC_Process"]
	wantRFC := []string{"RFC Done – Fitout to start", "RFC Done – under Fitout", "RFC Done – Fitout on hold"}
	for i, s := range wantRFC {
		if rfc.SubStatuses[i] != s {
			t.Errorf("RFC_Process[%d] = %q, want %q", i, rfc.SubStatuses[i], s)
		}
	}

	if len(cfg.Workflow.Stages["Under_Negotiation"].Checklist) == 0 {
		t.Error("Under_Negotiation has no checklist")
	}
}

func TestValidateRejectsBrokenConfigs(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(cfg *config.Config)
		wantSub string
	}{
		{
			name:    "bad mode",
			mutate:  func(cfg *config.Config) { cfg.Engine.Mode = "circular" },
			wantSub: "engine.mode",
		},
		{
			name:    "unknown root",
			mutate:  func(cfg *config.Config) { cfg.Workflow.Root = "Nowhere" },
			wantSub: "not a declared stage",
		},
		{
			name: "transition to unknown stage",
			mutate: func(cfg *config.Config) {
				st := cfg.Workflow.Stages["Option_Identified"]
				st.Transitions = append(st.Transitions, config.Transition{Label: "x", TargetStage: "Nowhere"})
				cfg.Workflow.Stages["Option_Identified"] = st
			},
			wantSub: "unknown stage",
		},
		{
			name: "transition to undeclared sub-status",
			mutate: func(cfg *config.Config) {
				st := cfg.Workflow.Stages["Option_Identified"]
				st.Transitions = append(st.Transitions, config.Transition{
					Label: "x", TargetStage: "Watchlist", TargetSubStatus: "Not A Thing",
				})
				cfg.Workflow.Stages["Option_Identified"] = st
			},
			wantSub: "undeclared sub-status",
		},
		{
			name: "override on undeclared pair",
			mutate: func(cfg *config.Config) {
				cfg.Workflow.ActiveRoleOverrides = append(cfg.Workflow.ActiveRoleOverrides, config.RoleOverride{
					Stage: "Watchlist", SubStatus: "Not A Thing", Role: "BT",
				})
			},
			wantSub: "not declared on stage",
		},
		{
			name: "select field without options",
			mutate: func(cfg *config.Config) {
				st := cfg.Workflow.Stages["Option_Identified"]
				st.Fields = append(st.Fields, config.Field{Name: "choice", Type: "select"})
				cfg.Workflow.Stages["Option_Identified"] = st
			},
			wantSub: "no options",
		},
		{
			name: "annotation on non-number field",
			mutate: func(cfg *config.Config) {
				cfg.Workflow.Annotations = append(cfg.Workflow.Annotations, config.Annotation{
					Stage: "Under_Negotiation", Field: "capex_ask", Above: 1, Remark: "x",
				})
			},
			wantSub: "requires a number field",
		},
		{
			name:    "steps not contiguous",
			mutate:  func(cfg *config.Config) { delete(cfg.Steps, 5) },
			wantSub: "contiguous",
		},
		{
			name: "drop_when on unknown field",
			mutate: func(cfg *config.Config) {
				st := cfg.Steps[2]
				st.DropWhen = &config.DropRule{Field: "nope", Value: "No"}
				cfg.Steps[2] = st
			},
			wantSub: "unknown field",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Fatalf("error %q does not mention %q", err, tc.wantSub)
			}
		})
	}
}

package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"leasetrack/internal/config"
	"leasetrack/internal/domain"
	"leasetrack/internal/repo"
	"leasetrack/internal/workflow"
)

// ResolveDefinition loads leasetrack.yml from the workspace when
// present and falls back to the built-in workflow otherwise. The
// compiled definition is what the engine and server run on.
func ResolveDefinition(workspace string) (*workflow.Definition, *config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return workflow.Compile(cfg), cfg, nil
}

// EnsureUser records the acting user so API keys and the audit trail
// can resolve them later. Role changes overwrite the stored role.
func EnsureUser(ctx context.Context, r repo.Repo, userID, role string) error {
	if userID == "" {
		userID = "local-user"
	}
	if role == "" {
		return fmt.Errorf("role required for user %s", userID)
	}
	u, err := r.GetUser(ctx, userID)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return err
	}
	if err == nil && u.Role == role {
		return nil
	}
	return r.UpsertUser(ctx, domain.User{
		ID:        userID,
		Role:      role,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	})
}

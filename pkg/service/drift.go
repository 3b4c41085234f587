package service

import (
	"context"

	"github.com/hephaestus-forge/hephaestus/pkg/auth"
	"github.com/hephaestus-forge/hephaestus/pkg/drift"
)

// DriftSummary reports declared-versus-installed tool versions.
func (s *Service) DriftSummary(ctx context.Context, principal *auth.Principal) (*drift.Summary, error) {
	if err := auth.RequireRole(principal, auth.RoleGuardRails); err != nil {
		return nil, err
	}
	return s.Drift.Detect(ctx)
}

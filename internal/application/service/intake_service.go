package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/mwhitney-dev/caseflow/internal/application/port"
	"github.com/mwhitney-dev/caseflow/internal/domain/entity"
	"github.com/mwhitney-dev/caseflow/internal/domain/event"
	"github.com/mwhitney-dev/caseflow/pkg/utils"
)

// CreateCaseInput is the intake payload for a new case.
type CreateCaseInput struct {
	Name        string   `json:"name" binding:"required"`
	AgencyID    int64    `json:"agency_id"`
	AgencyEmail string   `json:"agency_email"`
	PortalURL   string   `json:"portal_url,omitempty"`
	Priority    int      `json:"priority"`
	Tags        []string `json:"tags,omitempty"`
}

// IntakeService creates cases and hands them to the engine. The case row is
// born in draft; everything after that is the engine's business.
type IntakeService struct {
	cases  port.CaseRepository
	engine Transitioner
	logger *zap.Logger
}

// NewIntakeService creates an intake service.
func NewIntakeService(cases port.CaseRepository, eng Transitioner, logger *zap.Logger) *IntakeService {
	return &IntakeService{cases: cases, engine: eng, logger: logger}
}

// CreateCase persists a new draft case and fires its CASE_CREATED transition.
// The caller's idempotency token guards the transition, not the insert;
// intake endpoints that need insert-level dedup should look the case up
// first.
func (s *IntakeService) CreateCase(ctx context.Context, input CreateCaseInput, idempotencyToken string) (*entity.Case, error) {
	if input.AgencyEmail != "" {
		if err := utils.ValidateEmail(input.AgencyEmail); err != nil {
			return nil, err
		}
	}
	if input.PortalURL != "" {
		if err := utils.ValidatePortalURL(input.PortalURL); err != nil {
			return nil, err
		}
	}

	c := &entity.Case{
		Name:        strings.TrimSpace(utils.SanitizeString(input.Name)),
		Status:      entity.CaseStatusDraft,
		AgencyID:    input.AgencyID,
		AgencyEmail: input.AgencyEmail,
		PortalURL:   input.PortalURL,
		Priority:    input.Priority,
		Tags:        strings.Join(input.Tags, ","),
	}
	if err := s.cases.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to create case: %w", err)
	}

	evtCtx := event.NewContext(nil)
	if idempotencyToken != "" {
		evtCtx = evtCtx.WithToken(idempotencyToken)
	}
	if _, err := s.engine.Transition(ctx, event.New(event.TypeCaseCreated, c.ID, evtCtx)); err != nil {
		return nil, fmt.Errorf("intake transition failed: %w", err)
	}

	s.logger.Info("Case created",
		zap.Int64("case_id", c.ID),
		zap.String("name", c.Name),
	)

	created, err := s.cases.GetByID(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	return created, nil
}

// GetCase returns one case by id, nil when absent.
func (s *IntakeService) GetCase(ctx context.Context, id int64) (*entity.Case, error) {
	return s.cases.GetByID(ctx, id)
}

// ListCases pages through cases, newest first.
func (s *IntakeService) ListCases(ctx context.Context, limit, offset int) ([]*entity.Case, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.cases.List(ctx, limit, offset)
}

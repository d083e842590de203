package commission

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/smmhub-backend/internal/referral"
	"github.com/angelmondragon/smmhub-backend/pkg/db/models"
	"github.com/angelmondragon/smmhub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/smmhub-backend/pkg/errors"
	"github.com/angelmondragon/smmhub-backend/pkg/pagination"
)

// Service exposes commission administration and the agent dashboard reads.
type Service interface {
	Pay(ctx context.Context, recordID uuid.UUID) (*models.CommissionRecord, error)
	Cancel(ctx context.Context, recordID uuid.UUID) (*models.CommissionRecord, error)
	ListConfigs(ctx context.Context) ([]models.CommissionConfig, error)
	UpsertConfig(ctx context.Context, input ConfigInput) (*models.CommissionConfig, error)
	ListByAgent(ctx context.Context, agentID uuid.UUID, params pagination.Params) (*RecordPage, error)
	ListAll(ctx context.Context, filter ListFilter, params pagination.Params) (*RecordPage, error)
	Stats(ctx context.Context, agentID uuid.UUID) (*AgentStats, error)
}

type ConfigInput struct {
	AgentLevel   int
	DirectRate   decimal.Decimal
	IndirectRate decimal.Decimal
	MaxLevels    int
	IsActive     bool
	Description  *string
}

type RecordPage struct {
	Records    []models.CommissionRecord `json:"records"`
	NextCursor string                    `json:"next_cursor,omitempty"`
}

// AgentStats summarises an agent's network and earnings.
type AgentStats struct {
	AgentID                 uuid.UUID       `json:"agent_id"`
	AgentLevel              int             `json:"agent_level"`
	InviteCode              string          `json:"invite_code,omitempty"`
	DirectInvitees          int64           `json:"direct_invitees"`
	IndirectInvitees        int64           `json:"indirect_invitees"`
	TotalInvitees           int64           `json:"total_invitees"`
	TotalRecords            int64           `json:"total_commission_records"`
	PendingRecords          int64           `json:"pending_commission"`
	PaidRecords             int64           `json:"paid_commission"`
	CancelledRecords        int64           `json:"cancelled_commission"`
	TotalDirectCommission   decimal.Decimal `json:"total_direct_commission"`
	TotalIndirectCommission decimal.Decimal `json:"total_indirect_commission"`
	TotalCommission         decimal.Decimal `json:"total_commission"`
	MonthlyCommission       decimal.Decimal `json:"monthly_commission"`
}

type agentLoader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type service struct {
	repo   Repository
	graph  referral.Graph
	agents agentLoader
	now    func() time.Time
}

// NewService builds the commission admin service.
func NewService(repo Repository, graph referral.Graph, agents agentLoader) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("commission repository required")
	}
	if graph == nil {
		return nil, fmt.Errorf("referral graph required")
	}
	if agents == nil {
		return nil, fmt.Errorf("agent loader required")
	}
	return &service{repo: repo, graph: graph, agents: agents, now: time.Now}, nil
}

func (s *service) Pay(ctx context.Context, recordID uuid.UUID) (*models.CommissionRecord, error) {
	paidAt := s.now().UTC()
	return s.transition(ctx, recordID, enums.CommissionStatusPaid, &paidAt)
}

// Cancel only flips the status. The credited amount stays on the agent's balance;
// reversing it is a manual adjustment.
func (s *service) Cancel(ctx context.Context, recordID uuid.UUID) (*models.CommissionRecord, error) {
	return s.transition(ctx, recordID, enums.CommissionStatusCancelled, nil)
}

func (s *service) transition(ctx context.Context, recordID uuid.UUID, to enums.CommissionStatus, paidAt *time.Time) (*models.CommissionRecord, error) {
	updated, err := s.repo.Transition(ctx, recordID, enums.CommissionStatusPending, to, paidAt)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update commission record")
	}
	record, err := s.repo.FindByID(ctx, recordID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load commission record")
	}
	if record == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "commission record not found")
	}
	if !updated {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "commission record is not pending").
			WithDetails(map[string]any{"status": record.Status})
	}
	return record, nil
}

func (s *service) ListConfigs(ctx context.Context) ([]models.CommissionConfig, error) {
	rows, err := s.repo.ListConfigs(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list commission configs")
	}
	return rows, nil
}

func (s *service) UpsertConfig(ctx context.Context, input ConfigInput) (*models.CommissionConfig, error) {
	if err := validateConfig(input); err != nil {
		return nil, err
	}
	var description *string
	if input.Description != nil {
		trimmed := strings.TrimSpace(*input.Description)
		description = &trimmed
	}
	stored, err := s.repo.UpsertConfig(ctx, &models.CommissionConfig{
		AgentLevel:   input.AgentLevel,
		DirectRate:   input.DirectRate,
		IndirectRate: input.IndirectRate,
		MaxLevels:    input.MaxLevels,
		IsActive:     input.IsActive,
		Description:  description,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "store commission config")
	}
	return stored, nil
}

func validateConfig(input ConfigInput) error {
	one := decimal.NewFromInt(1)
	details := map[string]any{}
	if input.AgentLevel < 0 {
		details["agent_level"] = "must not be negative"
	}
	if input.DirectRate.IsNegative() || input.DirectRate.GreaterThanOrEqual(one) {
		details["direct_rate"] = "must be in [0, 1)"
	}
	if input.IndirectRate.IsNegative() || input.IndirectRate.GreaterThanOrEqual(one) {
		details["indirect_rate"] = "must be in [0, 1)"
	}
	if input.DirectRate.Add(input.IndirectRate).GreaterThanOrEqual(one) {
		details["rates"] = "direct_rate + indirect_rate must be below 1"
	}
	if input.MaxLevels < 1 {
		details["max_levels"] = "must be at least 1"
	}
	if len(details) > 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid commission config").WithDetails(details)
	}
	return nil
}

func (s *service) ListByAgent(ctx context.Context, agentID uuid.UUID, params pagination.Params) (*RecordPage, error) {
	return s.ListAll(ctx, ListFilter{AgentID: &agentID}, params)
}

func (s *service) ListAll(ctx context.Context, filter ListFilter, params pagination.Params) (*RecordPage, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.List(ctx, filter, pagination.LimitWithBuffer(params.Limit), cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list commission records")
	}
	rows, next := pagination.Trim(rows, params.Limit, func(r models.CommissionRecord) pagination.Cursor {
		return pagination.Cursor{CreatedAt: r.CreatedAt, ID: r.ID}
	})
	if rows == nil {
		rows = []models.CommissionRecord{}
	}
	return &RecordPage{Records: rows, NextCursor: next}, nil
}

func (s *service) Stats(ctx context.Context, agentID uuid.UUID) (*AgentStats, error) {
	agent, err := s.agents.FindByID(ctx, agentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load agent")
	}
	if agent == nil || !agent.IsAgent {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "agent not found")
	}

	counts, err := s.graph.Counts(ctx, agentID)
	if err != nil {
		return nil, err
	}
	stats := &AgentStats{
		AgentID:                 agent.ID,
		AgentLevel:              agent.AgentLevel,
		DirectInvitees:          counts.Direct,
		IndirectInvitees:        counts.Indirect,
		TotalInvitees:           counts.Total,
		TotalDirectCommission:   agent.TotalDirectCommission,
		TotalIndirectCommission: agent.TotalIndirectCommission,
		TotalCommission:         agent.TotalCommission,
		MonthlyCommission:       decimal.Zero,
	}
	if agent.InviteCode != nil {
		stats.InviteCode = *agent.InviteCode
	}

	buckets, err := s.repo.AgentAggregates(ctx, agentID, nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "aggregate commission records")
	}
	for _, b := range buckets {
		stats.TotalRecords += b.Count
		switch b.Status {
		case enums.CommissionStatusPending:
			stats.PendingRecords += b.Count
		case enums.CommissionStatusPaid:
			stats.PaidRecords += b.Count
		case enums.CommissionStatusCancelled:
			stats.CancelledRecords += b.Count
		}
	}

	now := s.now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	monthly, err := s.repo.AgentAggregates(ctx, agentID, &monthStart)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "aggregate monthly commission")
	}
	for _, b := range monthly {
		if b.Status == enums.CommissionStatusCancelled {
			continue
		}
		stats.MonthlyCommission = stats.MonthlyCommission.Add(b.Amount)
	}
	return stats, nil
}

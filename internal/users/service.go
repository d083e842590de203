package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/smmhub-backend/internal/ledger"
	"github.com/angelmondragon/smmhub-backend/internal/referral"
	"github.com/angelmondragon/smmhub-backend/pkg/db/models"
	"github.com/angelmondragon/smmhub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/smmhub-backend/pkg/errors"
	"github.com/angelmondragon/smmhub-backend/pkg/logger"
	"github.com/angelmondragon/smmhub-backend/pkg/outbox"
	"github.com/angelmondragon/smmhub-backend/pkg/outbox/payloads"
)

const referenceTypeAdjustment = "admin_adjustment"

var maxOwnRate = decimal.NewFromInt(1)

// Service covers the profile read and the admin operations on accounts.
type Service interface {
	Get(ctx context.Context, id uuid.UUID) (*UserDTO, error)
	SetAgent(ctx context.Context, input SetAgentInput) (*UserDTO, error)
	SetMemberLevel(ctx context.Context, userID uuid.UUID, level int) (*UserDTO, error)
	AdjustBalance(ctx context.Context, input AdjustBalanceInput) (*models.LedgerEntry, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type memberLevelSetter interface {
	SetMemberLevel(ctx context.Context, userID uuid.UUID, level int) error
}

type eventEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type ServiceParams struct {
	DB       *gorm.DB
	Tx       txRunner
	Referral referral.Graph
	Levels   memberLevelSetter
	Ledger   ledger.Service
	Outbox   eventEmitter
	Logger   *logger.Logger
}

type service struct {
	db       *gorm.DB
	tx       txRunner
	referral referral.Graph
	levels   memberLevelSetter
	ledger   ledger.Service
	outbox   eventEmitter
	logg     *logger.Logger
}

func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.DB == nil:
		return nil, fmt.Errorf("database required")
	case params.Tx == nil:
		return nil, fmt.Errorf("tx runner required")
	case params.Referral == nil:
		return nil, fmt.Errorf("referral graph required")
	case params.Levels == nil:
		return nil, fmt.Errorf("member level setter required")
	case params.Ledger == nil:
		return nil, fmt.Errorf("ledger service required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox service required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{
		db:       params.DB,
		tx:       params.Tx,
		referral: params.Referral,
		levels:   params.Levels,
		ledger:   params.Ledger,
		outbox:   params.Outbox,
		logg:     logg,
	}, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*UserDTO, error) {
	user, err := NewRepository(s.db).FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load user")
	}
	return FromModel(user), nil
}

// SetAgent flags or unflags an agent. New agents get an invite code; admins
// keep their role either way.
func (s *service) SetAgent(ctx context.Context, input SetAgentInput) (*UserDTO, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user_id is required")
	}
	if input.AgentLevel < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "agent_level must not be negative")
	}
	for name, rate := range map[string]*decimal.Decimal{
		"direct_commission_rate":   input.DirectRate,
		"indirect_commission_rate": input.IndirectRate,
	} {
		if rate != nil && (rate.IsNegative() || rate.GreaterThan(maxOwnRate)) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, name+" must be between 0 and 1")
		}
	}

	var updated *models.User
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := NewRepository(tx)
		user, err := repo.FindByID(ctx, input.UserID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load user")
		}

		role := user.SystemRole
		if role != enums.SystemRoleAdmin {
			role = enums.SystemRoleUser
			if input.IsAgent {
				role = enums.SystemRoleAgent
			}
		}
		if _, err := repo.UpdateAgent(ctx, user.ID, input, role); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update agent")
		}
		if input.IsAgent {
			if _, err := s.referral.WithTx(tx).EnsureInviteCode(ctx, user.ID); err != nil {
				return err
			}
		}
		updated, err = repo.FindByID(ctx, user.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload user")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"user_id":     updated.ID.String(),
		"is_agent":    updated.IsAgent,
		"agent_level": updated.AgentLevel,
	}), "agent settings updated")
	return FromModel(updated), nil
}

func (s *service) SetMemberLevel(ctx context.Context, userID uuid.UUID, level int) (*UserDTO, error) {
	if err := s.levels.SetMemberLevel(ctx, userID, level); err != nil {
		return nil, err
	}
	return s.Get(ctx, userID)
}

// AdjustBalance applies a manual correction through the ledger and records a
// balance_adjusted event in the same transaction.
func (s *service) AdjustBalance(ctx context.Context, input AdjustBalanceInput) (*models.LedgerEntry, error) {
	reason := strings.TrimSpace(input.Reason)
	switch {
	case input.UserID == uuid.Nil:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	case reason == "":
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reason is required")
	}
	amount := input.Amount.RoundBank(2)
	if amount.IsZero() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must not be zero")
	}

	direction := enums.LedgerDirectionCredit
	if amount.IsNegative() {
		direction = enums.LedgerDirectionDebit
	}
	mutation := ledger.Mutation{
		UserID:        input.UserID,
		Amount:        amount.Abs(),
		Category:      enums.LedgerCategoryAdjustment,
		ReferenceType: referenceTypeAdjustment,
		ReferenceID:   input.AdminID.String(),
		Note:          &reason,
	}

	var entry *models.LedgerEntry
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		if direction == enums.LedgerDirectionDebit {
			entry, err = s.ledger.Debit(ctx, tx, mutation)
		} else {
			entry, err = s.ledger.Credit(ctx, tx, mutation)
		}
		if err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventBalanceAdjusted,
			AggregateType: enums.AggregateUser,
			AggregateID:   input.UserID,
			Actor:         &outbox.ActorRef{UserID: input.AdminID, Role: string(enums.SystemRoleAdmin)},
			Data: payloads.BalanceAdjustedEvent{
				UserID:    input.UserID,
				AdminID:   input.AdminID,
				Direction: direction,
				Amount:    mutation.Amount,
				Reason:    reason,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	ctx = s.logg.WithUserID(ctx, input.UserID.String())
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"admin_id":  input.AdminID.String(),
		"direction": string(direction),
		"amount":    mutation.Amount.StringFixed(2),
	}), "balance adjusted")
	return entry, nil
}

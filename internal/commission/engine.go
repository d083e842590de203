package commission

import (
	"context"
	stdErrors "errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/smmhub-backend/internal/ledger"
	"github.com/angelmondragon/smmhub-backend/internal/referral"
	dbpkg "github.com/angelmondragon/smmhub-backend/pkg/db"
	"github.com/angelmondragon/smmhub-backend/pkg/db/models"
	"github.com/angelmondragon/smmhub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/smmhub-backend/pkg/errors"
	"github.com/angelmondragon/smmhub-backend/pkg/logger"
	"github.com/angelmondragon/smmhub-backend/pkg/metrics"
)

const referenceTypeOrder = "order"

var errAlreadySettled = stdErrors.New("commission already settled for order")

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Settler distributes an order's commissions up the invite chain.
type Settler interface {
	Settle(ctx context.Context, order *models.Order) ([]models.CommissionRecord, error)
	SettleTx(ctx context.Context, tx *gorm.DB, order *models.Order) ([]models.CommissionRecord, error)
}

// EngineParams wires the commission engine.
type EngineParams struct {
	Tx       txRunner
	Repo     Repository
	Graph    referral.Graph
	Ledger   ledger.Service
	Defaults Defaults
	Metrics  *metrics.SettlementMetrics
	Logger   *logger.Logger
}

// Engine pays agents up the consumer's invite chain. Each agent is paid inside
// its own savepoint so one failure does not block the others.
type Engine struct {
	tx       txRunner
	repo     Repository
	graph    referral.Graph
	ledger   ledger.Service
	defaults Defaults
	metrics  *metrics.SettlementMetrics
	logg     *logger.Logger
}

func NewEngine(params EngineParams) (*Engine, error) {
	if params.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("commission repository required")
	}
	if params.Graph == nil {
		return nil, fmt.Errorf("referral graph required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	defaults := params.Defaults
	if defaults.MaxLevels <= 0 {
		defaults.MaxLevels = 3
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Engine{
		tx:       params.Tx,
		repo:     params.Repo,
		graph:    params.Graph,
		ledger:   params.Ledger,
		defaults: defaults,
		metrics:  params.Metrics,
		logg:     logg,
	}, nil
}

// Settle runs SettleTx in its own transaction. A partial failure still commits
// the agents that were paid.
func (e *Engine) Settle(ctx context.Context, order *models.Order) ([]models.CommissionRecord, error) {
	var (
		records []models.CommissionRecord
		partial error
	)
	err := e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		records, err = e.SettleTx(ctx, tx, order)
		if err != nil && pkgerrors.Is(err, pkgerrors.CodeCommissionPartialFailure) {
			partial = err
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return records, partial
}

// SettleTx creates and credits the commission records for order inside tx. If
// the order already has records they are returned unchanged.
func (e *Engine) SettleTx(ctx context.Context, tx *gorm.DB, order *models.Order) ([]models.CommissionRecord, error) {
	if tx == nil {
		return nil, stdErrors.New("transaction required")
	}
	if order == nil || order.ID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order is required")
	}
	if !order.Charge.IsPositive() {
		return nil, nil
	}
	ctx = e.logg.WithOrderID(ctx, order.ID.String())

	repo := e.repo.WithTx(tx)
	existing, err := repo.ListByOrder(ctx, order.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load commission records")
	}
	if len(existing) > 0 {
		return existing, nil
	}

	var result *distribution
	err = tx.Transaction(func(sp *gorm.DB) error {
		var err error
		result, err = e.distribute(ctx, sp, order)
		return err
	})
	if stdErrors.Is(err, errAlreadySettled) {
		e.logg.Info(ctx, "commission settled concurrently; returning stored records")
		rows, err := repo.ListByOrder(ctx, order.ID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load commission records")
		}
		return rows, nil
	}
	if err != nil {
		return nil, err
	}

	if result.errs != nil {
		e.logg.Error(e.logg.WithField(ctx, "failed_agents", len(result.failed)), "commission partially failed", result.errs)
		return result.records, pkgerrors.Wrap(pkgerrors.CodeCommissionPartialFailure, result.errs, "some commissions could not be credited").
			WithDetails(map[string]any{"failed": result.failed})
	}
	return result.records, nil
}

type distribution struct {
	records []models.CommissionRecord
	failed  []map[string]any
	errs    error
}

// distribute walks the chain and pays each eligible agent. Per-agent failures are
// collected in the distribution; a returned error aborts the enclosing savepoint.
func (e *Engine) distribute(ctx context.Context, tx *gorm.DB, order *models.Order) (*distribution, error) {
	repo := e.repo.WithTx(tx)
	configs, err := repo.ActiveConfigs(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load commission configs")
	}
	rates := newRateTable(configs, e.defaults)

	chain, err := e.graph.WithTx(tx).ChainAbove(ctx, order.UserID, rates.chainDepth())
	if err != nil {
		return nil, err
	}

	out := &distribution{}
	remaining := order.Charge
	for position, agent := range chain {
		if !agent.IsAgent || !rates.eligible(agent, position) {
			continue
		}
		kind := commissionTypeAt(position)
		rate := rates.rate(agent, kind)
		if !rate.IsPositive() {
			continue
		}
		amount := decimal.Min(order.Charge.Mul(rate).RoundBank(2), remaining)
		if !amount.IsPositive() {
			continue
		}

		record := models.CommissionRecord{
			AgentID:          agent.ID,
			ConsumerID:       order.UserID,
			OrderID:          order.ID,
			CommissionType:   kind,
			CommissionRate:   rate,
			OrderAmount:      order.Charge,
			CommissionAmount: amount,
			Status:           enums.CommissionStatusPending,
			Description:      fmt.Sprintf("%s commission for order %s", kind, order.ID),
		}
		err := tx.Transaction(func(sp *gorm.DB) error {
			if err := e.repo.WithTx(sp).Insert(ctx, &record); err != nil {
				// (agent_id, order_id) is the only natural key on the table.
				if dbpkg.IsUniqueViolation(err, "") {
					return errAlreadySettled
				}
				return err
			}
			_, err := e.ledger.Credit(ctx, sp, ledger.Mutation{
				UserID:        agent.ID,
				Amount:        amount,
				Category:      enums.CommissionLedgerCategory(kind),
				ReferenceType: referenceTypeOrder,
				ReferenceID:   order.ID.String(),
			})
			return err
		})
		if err != nil {
			if stdErrors.Is(err, errAlreadySettled) {
				return nil, err
			}
			e.metrics.IncCommissionFailure(string(kind))
			out.failed = append(out.failed, map[string]any{
				"agent_id": agent.ID.String(),
				"type":     kind,
				"amount":   amount.StringFixed(2),
			})
			out.errs = multierr.Append(out.errs, fmt.Errorf("agent %s: %w", agent.ID, err))
			continue
		}

		e.metrics.IncCommissionCredit(string(kind))
		remaining = remaining.Sub(amount)
		out.records = append(out.records, record)
	}
	return out, nil
}

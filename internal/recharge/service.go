package recharge

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/smmhub-backend/internal/ledger"
	dbpkg "github.com/angelmondragon/smmhub-backend/pkg/db"
	"github.com/angelmondragon/smmhub-backend/pkg/db/models"
	"github.com/angelmondragon/smmhub-backend/pkg/enums"
	"github.com/angelmondragon/smmhub-backend/pkg/epay"
	pkgerrors "github.com/angelmondragon/smmhub-backend/pkg/errors"
	"github.com/angelmondragon/smmhub-backend/pkg/logger"
	"github.com/angelmondragon/smmhub-backend/pkg/metrics"
	"github.com/angelmondragon/smmhub-backend/pkg/outbox"
	"github.com/angelmondragon/smmhub-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/smmhub-backend/pkg/pagination"
)

const (
	// NotifyScope namespaces the notify guard keys.
	NotifyScope = "epay-notify"

	referenceTypeRecharge = "recharge"
	defaultOrderName      = "账户充值"
	defaultReconcileBatch = 100
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type gateway interface {
	CreateOrder(ctx context.Context, req epay.CreateOrderRequest) (*epay.CreateOrderResult, error)
	QueryOrder(ctx context.Context, outTradeNo string) (*epay.OrderInfo, error)
}

type verifier interface {
	Verify(params map[string]string) bool
}

type notifyGuard interface {
	CheckAndMark(ctx context.Context, scope, key string) (bool, error)
	Release(ctx context.Context, scope, key string) error
}

type eventEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service funds balances through the payment gateway.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*CreateResult, error)
	HandleNotify(ctx context.Context, params map[string]string) (*models.RechargeRecord, error)
	Reconcile(ctx context.Context, olderThan time.Duration) (*ReconcileResult, error)
	History(ctx context.Context, userID uuid.UUID, params pagination.Params) (*HistoryPage, error)
}

type CreateInput struct {
	UserID        uuid.UUID
	Amount        decimal.Decimal
	PaymentMethod string
	Remark        string
	ClientIP      string
	// Origin is the public base URL the gateway calls back on.
	Origin string
}

type CreateResult struct {
	Record  models.RechargeRecord   `json:"record"`
	Payment *epay.CreateOrderResult `json:"payment"`
}

type HistoryPage struct {
	Records    []models.RechargeRecord `json:"records"`
	NextCursor string                  `json:"next_cursor,omitempty"`
}

type ReconcileResult struct {
	Checked   int `json:"checked"`
	Completed int `json:"completed"`
	Expired   int `json:"expired"`
	Errors    int `json:"errors"`
}

type ServiceParams struct {
	Tx          txRunner
	Repo        Repository
	Ledger      ledger.Service
	Gateway     gateway
	Verifier    verifier
	Guard       notifyGuard
	Outbox      eventEmitter
	Metrics     *metrics.SettlementMetrics
	Logger      *logger.Logger
	MinAmount   decimal.Decimal
	MaxAmount   decimal.Decimal
	NotifyPath  string
	ReturnPath  string
	ExpireAfter time.Duration
	BatchSize   int
	Now         func() time.Time
}

type service struct {
	tx          txRunner
	repo        Repository
	ledger      ledger.Service
	gateway     gateway
	verifier    verifier
	guard       notifyGuard
	outbox      eventEmitter
	metrics     *metrics.SettlementMetrics
	logg        *logger.Logger
	minAmount   decimal.Decimal
	maxAmount   decimal.Decimal
	notifyPath  string
	returnPath  string
	expireAfter time.Duration
	batchSize   int
	now         func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.Tx == nil:
		return nil, fmt.Errorf("tx runner required")
	case params.Repo == nil:
		return nil, fmt.Errorf("recharge repository required")
	case params.Ledger == nil:
		return nil, fmt.Errorf("ledger service required")
	case params.Gateway == nil:
		return nil, fmt.Errorf("payment gateway required")
	case params.Verifier == nil:
		return nil, fmt.Errorf("signature verifier required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox service required")
	}
	if params.MaxAmount.IsPositive() && params.MaxAmount.LessThan(params.MinAmount) {
		return nil, fmt.Errorf("recharge max amount below min amount")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultReconcileBatch
	}
	return &service{
		tx:          params.Tx,
		repo:        params.Repo,
		ledger:      params.Ledger,
		gateway:     params.Gateway,
		verifier:    params.Verifier,
		guard:       params.Guard,
		outbox:      params.Outbox,
		metrics:     params.Metrics,
		logg:        logg,
		minAmount:   params.MinAmount,
		maxAmount:   params.MaxAmount,
		notifyPath:  params.NotifyPath,
		returnPath:  params.ReturnPath,
		expireAfter: params.ExpireAfter,
		batchSize:   batch,
		now:         now,
	}, nil
}

// OutTradeNo builds the merchant order number: "FT", the user id in hex, then
// the creation time in unix milliseconds.
func OutTradeNo(userID uuid.UUID, at time.Time) string {
	return "FT" + strings.ReplaceAll(userID.String(), "-", "") + strconv.FormatInt(at.UnixMilli(), 10)
}

func (s *service) Create(ctx context.Context, input CreateInput) (*CreateResult, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	amount := input.Amount.Round(2)
	if !amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if amount.LessThan(s.minAmount) || (s.maxAmount.IsPositive() && amount.GreaterThan(s.maxAmount)) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("amount must be between %s and %s", s.minAmount.String(), s.maxAmount.String())).
			WithDetails(map[string]any{"min": s.minAmount.String(), "max": s.maxAmount.String()})
	}
	method, err := enums.ParsePaymentMethod(strings.TrimSpace(input.PaymentMethod))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unsupported payment method")
	}
	gatewayType, _ := method.GatewayType()

	remark := strings.TrimSpace(input.Remark)
	record := &models.RechargeRecord{
		UserID:        input.UserID,
		OutTradeNo:    OutTradeNo(input.UserID, s.now()),
		Amount:        amount,
		PaymentMethod: method,
		Status:        enums.RechargeStatusPending,
	}
	if remark != "" {
		record.Remark = &remark
	}
	if err := s.repo.Insert(ctx, record); err != nil {
		if dbpkg.IsUniqueViolation(err, "") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "recharge already in progress")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create recharge record")
	}
	ctx = s.logg.WithTradeNo(ctx, record.OutTradeNo)

	name := remark
	if name == "" {
		name = defaultOrderName
	}
	origin := strings.TrimRight(strings.TrimSpace(input.Origin), "/")
	payment, err := s.gateway.CreateOrder(ctx, epay.CreateOrderRequest{
		OutTradeNo: record.OutTradeNo,
		Name:       name,
		Money:      amount,
		Type:       gatewayType,
		NotifyURL:  origin + s.notifyPath,
		ReturnURL:  origin + s.returnPath,
		ClientIP:   input.ClientIP,
		Param:      input.UserID.String(),
	})
	if err != nil {
		if _, markErr := s.repo.MarkFailed(ctx, record.ID, err.Error()); markErr != nil {
			s.logg.Error(ctx, "failed to mark recharge as failed", markErr)
		}
		s.logg.Warn(ctx, "gateway refused recharge order")
		return nil, err
	}
	if payment.TradeNo != "" {
		record.TradeNo = &payment.TradeNo
	}
	s.logg.Info(s.logg.WithField(ctx, "amount", amount.StringFixed(2)), "recharge order created")
	return &CreateResult{Record: *record, Payment: payment}, nil
}

// completion is a gateway confirmation from either the notify callback or a
// reconcile query.
type completion struct {
	OutTradeNo string
	TradeNo    string
	Money      decimal.Decimal
	Param      string
	Type       string
}

func (s *service) HandleNotify(ctx context.Context, params map[string]string) (*models.RechargeRecord, error) {
	if !s.verifier.Verify(params) {
		s.metrics.IncNotification("invalid_signature")
		return nil, pkgerrors.New(pkgerrors.CodeInvalidSignature, "notify signature mismatch")
	}
	outTradeNo := strings.TrimSpace(params["out_trade_no"])
	rawMoney := strings.TrimSpace(params["money"])
	param := strings.TrimSpace(params["param"])
	if outTradeNo == "" || rawMoney == "" || param == "" {
		s.metrics.IncNotification("invalid")
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "out_trade_no, money and param are required")
	}
	money, err := decimal.NewFromString(rawMoney)
	if err != nil || !money.IsPositive() {
		s.metrics.IncNotification("invalid")
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "money must be a positive amount")
	}
	ctx = s.logg.WithTradeNo(ctx, outTradeNo)
	if status := strings.TrimSpace(params["trade_status"]); status != epay.TradeSuccess {
		s.metrics.IncNotification("not_paid")
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "trade not successful").
			WithDetails(map[string]any{"trade_status": status})
	}

	if s.guard != nil {
		seen, err := s.guard.CheckAndMark(ctx, NotifyScope, outTradeNo)
		if err != nil {
			// The database path still enforces idempotency.
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "notify guard unavailable")
		} else if seen {
			return nil, s.settledDuplicate(ctx, outTradeNo)
		}
	}

	record, err := s.complete(ctx, completion{
		OutTradeNo: outTradeNo,
		TradeNo:    strings.TrimSpace(params["trade_no"]),
		Money:      money,
		Param:      param,
		Type:       strings.TrimSpace(params["type"]),
	})
	if err != nil {
		if pkgerrors.Is(err, pkgerrors.CodeDuplicateNotification) {
			s.metrics.IncNotification("duplicate")
			return nil, err
		}
		s.metrics.IncNotification("failed")
		if s.guard != nil {
			if relErr := s.guard.Release(context.WithoutCancel(ctx), NotifyScope, outTradeNo); relErr != nil {
				s.logg.Error(ctx, "release notify guard", relErr)
			}
		}
		return nil, err
	}
	s.metrics.IncNotification("credited")
	return record, nil
}

// settledDuplicate answers a delivery that hit the guard marker. Only a
// completed record is a duplicate; otherwise the first delivery is still in
// flight or failed, and the gateway has to keep retrying.
func (s *service) settledDuplicate(ctx context.Context, outTradeNo string) error {
	existing, err := s.repo.FindByOutTradeNo(ctx, outTradeNo)
	if err != nil {
		s.metrics.IncNotification("failed")
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load recharge record")
	}
	if existing != nil && existing.Status == enums.RechargeStatusCompleted {
		s.metrics.IncNotification("duplicate")
		return pkgerrors.New(pkgerrors.CodeDuplicateNotification, "notification already processed")
	}
	s.metrics.IncNotification("in_flight")
	return pkgerrors.New(pkgerrors.CodeConflict, "notification is still being processed")
}

// complete marks the recharge completed and credits the user in one transaction.
func (s *service) complete(ctx context.Context, c completion) (*models.RechargeRecord, error) {
	var record models.RechargeRecord
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		existing, err := repo.FindByOutTradeNo(ctx, c.OutTradeNo)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load recharge record")
		}
		completedAt := s.now().UTC()

		if existing != nil {
			if existing.Status == enums.RechargeStatusCompleted {
				return pkgerrors.New(pkgerrors.CodeDuplicateNotification, "recharge already completed")
			}
			if !existing.Amount.Equal(c.Money) {
				return pkgerrors.New(pkgerrors.CodeValidation, "notified amount does not match recharge").
					WithDetails(map[string]any{"expected": existing.Amount.StringFixed(2), "notified": c.Money.StringFixed(2)})
			}
			if c.Param != "" && c.Param != existing.UserID.String() {
				return pkgerrors.New(pkgerrors.CodeValidation, "notified user does not match recharge")
			}
			updated, err := repo.MarkCompleted(ctx, existing.ID, c.TradeNo, completedAt)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "complete recharge")
			}
			if !updated {
				return pkgerrors.New(pkgerrors.CodeDuplicateNotification, "recharge already completed")
			}
			record = *existing
			record.Status = enums.RechargeStatusCompleted
			record.CompletedAt = &completedAt
			record.FailureReason = nil
			if c.TradeNo != "" {
				record.TradeNo = &c.TradeNo
			}
		} else {
			userID, err := uuid.Parse(c.Param)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "param is not a user id")
			}
			record = models.RechargeRecord{
				UserID:        userID,
				OutTradeNo:    c.OutTradeNo,
				Amount:        c.Money,
				PaymentMethod: methodFromGatewayType(c.Type),
				Status:        enums.RechargeStatusCompleted,
				CompletedAt:   &completedAt,
			}
			if c.TradeNo != "" {
				record.TradeNo = &c.TradeNo
			}
			if err := repo.Insert(ctx, &record); err != nil {
				if dbpkg.IsUniqueViolation(err, "") {
					return pkgerrors.Wrap(pkgerrors.CodeDuplicateNotification, err, "recharge already recorded")
				}
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "insert recharge record")
			}
		}

		if _, err := s.ledger.Credit(ctx, tx, ledger.Mutation{
			UserID:        record.UserID,
			Amount:        record.Amount,
			Category:      enums.LedgerCategoryRecharge,
			ReferenceType: referenceTypeRecharge,
			ReferenceID:   record.OutTradeNo,
		}); err != nil {
			return err
		}

		tradeNo := ""
		if record.TradeNo != nil {
			tradeNo = *record.TradeNo
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventRechargeCompleted,
			AggregateType: enums.AggregateRecharge,
			AggregateID:   record.ID,
			Actor:         &outbox.ActorRef{UserID: record.UserID},
			Data: payloads.RechargeCompletedEvent{
				RechargeID:    record.ID,
				UserID:        record.UserID,
				OutTradeNo:    record.OutTradeNo,
				TradeNo:       tradeNo,
				Amount:        record.Amount,
				PaymentMethod: record.PaymentMethod,
				CompletedAt:   completedAt,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"user_id": record.UserID.String(),
		"amount":  record.Amount.StringFixed(2),
	}), "recharge credited")
	return &record, nil
}

func methodFromGatewayType(t string) enums.PaymentMethod {
	switch t {
	case "wxpay":
		return enums.PaymentMethodWechat
	case "alipay":
		return enums.PaymentMethodAlipay
	default:
		return enums.PaymentMethodManual
	}
}

// Reconcile asks the gateway about pending recharges older than olderThan.
// Paid ones complete through the notify path; ones past the expiry window fail.
func (s *service) Reconcile(ctx context.Context, olderThan time.Duration) (*ReconcileResult, error) {
	now := s.now().UTC()
	pending, err := s.repo.ListPendingBefore(ctx, now.Add(-olderThan), s.batchSize)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list pending recharges")
	}

	result := &ReconcileResult{}
	for _, rec := range pending {
		result.Checked++
		recCtx := s.logg.WithTradeNo(ctx, rec.OutTradeNo)

		info, err := s.gateway.QueryOrder(recCtx, rec.OutTradeNo)
		switch {
		case err == nil && info.Paid():
			_, err := s.complete(recCtx, completion{
				OutTradeNo: rec.OutTradeNo,
				TradeNo:    info.TradeNo,
				Money:      rec.Amount,
				Param:      rec.UserID.String(),
			})
			if err != nil && !pkgerrors.Is(err, pkgerrors.CodeDuplicateNotification) {
				result.Errors++
				s.logg.Error(recCtx, "reconcile completion failed", err)
				continue
			}
			if err == nil {
				result.Completed++
			}
			continue
		case err != nil && !pkgerrors.Is(err, pkgerrors.CodeNotFound):
			result.Errors++
			s.logg.Warn(s.logg.WithField(recCtx, "error", err.Error()), "gateway query failed")
			continue
		}

		if s.expireAfter > 0 && now.Sub(rec.CreatedAt) >= s.expireAfter {
			expired, err := s.repo.MarkFailed(recCtx, rec.ID, "payment window expired")
			if err != nil {
				result.Errors++
				s.logg.Error(recCtx, "expire recharge", err)
				continue
			}
			if expired {
				result.Expired++
			}
		}
	}
	return result, nil
}

func (s *service) History(ctx context.Context, userID uuid.UUID, params pagination.Params) (*HistoryPage, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.ListByUser(ctx, userID, pagination.LimitWithBuffer(params.Limit), cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list recharges")
	}
	records, next := pagination.Trim(rows, params.Limit, func(r models.RechargeRecord) pagination.Cursor {
		return pagination.Cursor{CreatedAt: r.CreatedAt, ID: r.ID}
	})
	return &HistoryPage{Records: records, NextCursor: next}, nil
}

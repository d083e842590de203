package settlement

import (
	"context"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/smmhub-backend/internal/commission"
	"github.com/angelmondragon/smmhub-backend/internal/ledger"
	"github.com/angelmondragon/smmhub-backend/pkg/db/models"
	"github.com/angelmondragon/smmhub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/smmhub-backend/pkg/errors"
	"github.com/angelmondragon/smmhub-backend/pkg/logger"
	"github.com/angelmondragon/smmhub-backend/pkg/metrics"
	"github.com/angelmondragon/smmhub-backend/pkg/outbox"
	"github.com/angelmondragon/smmhub-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/smmhub-backend/pkg/pagination"
	"github.com/angelmondragon/smmhub-backend/pkg/smmapi"
)

const (
	referenceTypeOrder = "order"

	OrderTypeFixed    = "fixed"
	OrderTypeComments = "custom_comments"

	defaultFulfillmentTimeout = 30 * time.Second
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type fulfiller interface {
	AddOrder(ctx context.Context, req smmapi.AddOrderRequest) (string, error)
}

type priceLookup interface {
	ActivePrice(ctx context.Context, serviceID int) (*models.ServicePrice, error)
}

type eventEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service turns an order submission into a debit, a provider order, a cashback
// credit and the commission fan-out.
type Service interface {
	Submit(ctx context.Context, req SubmitRequest) (*Result, error)
	ListOrders(ctx context.Context, userID uuid.UUID, params pagination.Params) (*OrderPage, error)
	GetOrder(ctx context.Context, userID, orderID uuid.UUID) (*OrderDetail, error)
	MemberLevels(ctx context.Context) ([]models.MemberLevel, error)
	SetMemberLevel(ctx context.Context, userID uuid.UUID, level int) error
}

type SubmitRequest struct {
	UserID    uuid.UUID
	ServiceID int
	Quantity  int
	Link      string
	OrderType string
	Comments  string
}

// Result is the outcome of a settled order. CommissionError is set when some
// agents could not be paid; the order itself is committed regardless.
type Result struct {
	Order           models.Order              `json:"order"`
	Charge          decimal.Decimal           `json:"charge"`
	Cashback        decimal.Decimal           `json:"cashback"`
	CashbackRate    decimal.Decimal           `json:"cashback_rate"`
	Commissions     []models.CommissionRecord `json:"commissions"`
	CommissionError error                     `json:"-"`
	Summary         string                    `json:"summary"`
}

type OrderPage struct {
	Orders     []models.Order `json:"orders"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type OrderDetail struct {
	Order    models.Order           `json:"order"`
	Cashback *models.CashbackRecord `json:"cashback,omitempty"`
}

// ServiceParams wires the settlement service.
type ServiceParams struct {
	Tx                 txRunner
	Repo               Repository
	Catalog            priceLookup
	Ledger             ledger.Service
	Commission         commission.Settler
	Fulfillment        fulfiller
	Outbox             eventEmitter
	Metrics            *metrics.SettlementMetrics
	Logger             *logger.Logger
	FulfillmentTimeout time.Duration
	Currency           enums.Currency
}

type service struct {
	tx         txRunner
	repo       Repository
	catalog    priceLookup
	ledger     ledger.Service
	commission commission.Settler
	fulfiller  fulfiller
	outbox     eventEmitter
	metrics    *metrics.SettlementMetrics
	logg       *logger.Logger
	timeout    time.Duration
	currency   enums.Currency
}

func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.Tx == nil:
		return nil, fmt.Errorf("tx runner required")
	case params.Repo == nil:
		return nil, fmt.Errorf("settlement repository required")
	case params.Catalog == nil:
		return nil, fmt.Errorf("price catalog required")
	case params.Ledger == nil:
		return nil, fmt.Errorf("ledger service required")
	case params.Commission == nil:
		return nil, fmt.Errorf("commission engine required")
	case params.Fulfillment == nil:
		return nil, fmt.Errorf("fulfillment client required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox service required")
	}
	timeout := params.FulfillmentTimeout
	if timeout <= 0 {
		timeout = defaultFulfillmentTimeout
	}
	currency := params.Currency
	if !currency.IsValid() {
		currency = enums.CurrencyUSD
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{
		tx:         params.Tx,
		repo:       params.Repo,
		catalog:    params.Catalog,
		ledger:     params.Ledger,
		commission: params.Commission,
		fulfiller:  params.Fulfillment,
		outbox:     params.Outbox,
		metrics:    params.Metrics,
		logg:       logg,
		timeout:    timeout,
		currency:   currency,
	}, nil
}

func (s *service) Submit(ctx context.Context, req SubmitRequest) (*Result, error) {
	if err := validateSubmit(&req); err != nil {
		s.metrics.IncSubmission("invalid")
		return nil, err
	}
	ctx = s.logg.WithUserID(ctx, req.UserID.String())

	price, err := s.catalog.ActivePrice(ctx, req.ServiceID)
	if err != nil {
		s.metrics.IncSubmission(outcomeFor(err))
		return nil, err
	}
	if req.Quantity < price.MinQuantity || req.Quantity > price.MaxQuantity {
		s.metrics.IncSubmission("invalid")
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("quantity must be between %d and %d", price.MinQuantity, price.MaxQuantity)).
			WithDetails(map[string]any{"min": price.MinQuantity, "max": price.MaxQuantity})
	}
	charge := price.CustomerPrice.Mul(decimal.NewFromInt(int64(req.Quantity))).RoundBank(2)
	if !charge.IsPositive() {
		s.metrics.IncSubmission("invalid")
		return nil, pkgerrors.New(pkgerrors.CodePriceNotConfigured, "service price is not positive")
	}

	orderID := uuid.New()
	ctx = s.logg.WithOrderID(ctx, orderID.String())

	// Reserve the funds before anything leaves the process.
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		_, err := s.ledger.Debit(ctx, tx, ledger.Mutation{
			UserID:        req.UserID,
			Amount:        charge,
			Category:      enums.LedgerCategoryOrderCharge,
			ReferenceType: referenceTypeOrder,
			ReferenceID:   orderID.String(),
		})
		return err
	})
	if err != nil {
		s.metrics.IncSubmission(outcomeFor(err))
		return nil, err
	}

	externalID, err := s.placeOrder(ctx, req)
	if err != nil {
		s.compensate(ctx, req, orderID, charge, err)
		s.metrics.IncSubmission(outcomeFor(err))
		return nil, err
	}
	// The provider owns the order now; a caller that goes away must not undo it.
	ctx = context.WithoutCancel(s.logg.WithField(ctx, "external_order_id", externalID))

	result, err := s.commit(ctx, req, price, orderID, charge, externalID)
	if err != nil {
		if pkgerrors.As(err) == nil {
			err = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record settled order")
		}
		s.logg.Error(ctx, "settlement commit failed after provider accepted the order", err)
		s.compensate(ctx, req, orderID, charge, err)
		s.metrics.IncSubmission("error")
		return nil, err
	}

	s.metrics.IncSubmission("settled")
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"charge":      charge.StringFixed(2),
		"cashback":    result.Cashback.StringFixed(2),
		"commissions": len(result.Commissions),
	}), "order settled")
	return result, nil
}

func validateSubmit(req *SubmitRequest) error {
	req.Link = strings.TrimSpace(req.Link)
	req.Comments = strings.TrimSpace(req.Comments)
	req.OrderType = strings.TrimSpace(req.OrderType)
	if req.OrderType == "" {
		req.OrderType = OrderTypeFixed
	}
	switch {
	case req.UserID == uuid.Nil:
		return pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	case req.ServiceID <= 0:
		return pkgerrors.New(pkgerrors.CodeValidation, "service id is required")
	case req.Quantity <= 0:
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	case req.Link == "":
		return pkgerrors.New(pkgerrors.CodeValidation, "link is required")
	}
	switch req.OrderType {
	case OrderTypeFixed:
	case OrderTypeComments:
		if req.Comments == "" {
			return pkgerrors.New(pkgerrors.CodeValidation, "comments are required for comment orders")
		}
	default:
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unsupported order type %q", req.OrderType))
	}
	return nil
}

// placeOrder calls the provider with a bounded deadline. Errors are always
// FULFILLMENT_REJECTED or REMOTE_UNAVAILABLE.
func (s *service) placeOrder(ctx context.Context, req SubmitRequest) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	started := time.Now()
	externalID, err := s.fulfiller.AddOrder(callCtx, smmapi.AddOrderRequest{
		ServiceID: req.ServiceID,
		Link:      req.Link,
		Quantity:  req.Quantity,
		Comments:  req.Comments,
	})
	elapsed := time.Since(started)
	if err == nil {
		s.metrics.ObserveFulfillment("accepted", elapsed)
		return externalID, nil
	}

	if pkgerrors.Is(err, pkgerrors.CodeFulfillmentRejected) {
		s.metrics.ObserveFulfillment("rejected", elapsed)
		return "", err
	}
	s.metrics.ObserveFulfillment("unavailable", elapsed)
	if pkgerrors.Is(err, pkgerrors.CodeRemoteUnavailable) {
		return "", err
	}
	msg := "fulfillment provider unavailable"
	if stdErrors.Is(err, context.DeadlineExceeded) {
		msg = "fulfillment provider timed out"
	}
	return "", pkgerrors.Wrap(pkgerrors.CodeRemoteUnavailable, err, msg)
}

// compensate credits the reserved charge back. It runs detached from the
// caller's cancellation and never changes the error returned to the caller.
func (s *service) compensate(ctx context.Context, req SubmitRequest, orderID uuid.UUID, charge decimal.Decimal, cause error) {
	ctx = context.WithoutCancel(ctx)
	reason := cause.Error()
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if _, err := s.ledger.Credit(ctx, tx, ledger.Mutation{
			UserID:        req.UserID,
			Amount:        charge,
			Category:      enums.LedgerCategoryOrderRefund,
			ReferenceType: referenceTypeOrder,
			ReferenceID:   orderID.String(),
			Note:          &reason,
		}); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventFulfillmentCompensated,
			AggregateType: enums.AggregateUser,
			AggregateID:   req.UserID,
			Actor:         &outbox.ActorRef{UserID: req.UserID},
			Data: payloads.FulfillmentCompensatedEvent{
				UserID:    req.UserID,
				ServiceID: req.ServiceID,
				Amount:    charge,
				Reason:    reason,
			},
		})
	})
	fields := map[string]any{"amount": charge.StringFixed(2), "service_id": req.ServiceID}
	if err != nil {
		s.metrics.IncCompensation("failed")
		s.logg.Error(s.logg.WithFields(ctx, fields), "compensation credit failed; balance needs manual refund", err)
		return
	}
	s.metrics.IncCompensation("succeeded")
	s.logg.Warn(s.logg.WithFields(ctx, fields), "order charge refunded after fulfillment failure")
}

func (s *service) commit(ctx context.Context, req SubmitRequest, price *models.ServicePrice, orderID uuid.UUID, charge decimal.Decimal, externalID string) (*Result, error) {
	result := &Result{Charge: charge}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		buyer, err := repo.FindBuyer(ctx, req.UserID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load buyer")
		}
		if buyer == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
		}
		rate, err := s.cashbackRate(ctx, repo, buyer.MemberLevel)
		if err != nil {
			return err
		}
		cashback := charge.Mul(rate).RoundBank(2)

		var comments *string
		if req.Comments != "" {
			comments = &req.Comments
		}
		order := models.Order{
			ID:              orderID,
			UserID:          req.UserID,
			ServiceID:       price.ServiceID,
			ServiceName:     price.ServiceName,
			Link:            req.Link,
			Quantity:        req.Quantity,
			Comments:        comments,
			Charge:          charge,
			Currency:        s.currency,
			Status:          enums.OrderStatusPending,
			ExternalOrderID: externalID,
		}
		if err := repo.InsertOrder(ctx, &order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "insert order")
		}
		if cashback.IsPositive() {
			if _, err := s.ledger.Credit(ctx, tx, ledger.Mutation{
				UserID:        req.UserID,
				Amount:        cashback,
				Category:      enums.LedgerCategoryCashback,
				ReferenceType: referenceTypeOrder,
				ReferenceID:   orderID.String(),
			}); err != nil {
				return err
			}
		}
		if err := repo.InsertCashback(ctx, &models.CashbackRecord{
			OrderID: orderID,
			UserID:  req.UserID,
			Amount:  cashback,
			Rate:    rate,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "insert cashback record")
		}

		records, commissionErr := s.settleCommissions(ctx, tx, &order)

		total := decimal.Zero
		for _, record := range records {
			total = total.Add(record.CommissionAmount)
		}
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderSettled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Actor:         &outbox.ActorRef{UserID: req.UserID},
			Data: payloads.OrderSettledEvent{
				OrderID:         orderID,
				UserID:          req.UserID,
				ServiceID:       order.ServiceID,
				Quantity:        order.Quantity,
				Charge:          charge,
				Cashback:        cashback,
				CashbackRate:    rate,
				Commission:      total,
				CommissionCount: len(records),
				ExternalOrderID: externalID,
				Currency:        order.Currency,
				Status:          order.Status,
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit order settled")
		}

		result.Order = order
		result.Cashback = cashback
		result.CashbackRate = rate
		result.Commissions = records
		result.CommissionError = commissionErr
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.Summary = fmt.Sprintf("charged %s %s, cashback %s, provider order %s",
		result.Charge.StringFixed(2), s.currency, result.Cashback.StringFixed(2), externalID)
	return result, nil
}

// settleCommissions runs the engine under its own savepoint so no commission
// failure can undo the order.
func (s *service) settleCommissions(ctx context.Context, tx *gorm.DB, order *models.Order) ([]models.CommissionRecord, error) {
	var (
		records []models.CommissionRecord
		partial error
	)
	err := tx.Transaction(func(sp *gorm.DB) error {
		var err error
		records, err = s.commission.SettleTx(ctx, sp, order)
		if err != nil && pkgerrors.Is(err, pkgerrors.CodeCommissionPartialFailure) {
			partial = err
			return nil
		}
		return err
	})
	if err != nil {
		s.logg.Error(ctx, "commission settlement failed; order kept", err)
		return nil, err
	}
	if partial != nil {
		s.logg.Warn(ctx, "commission settlement partially failed")
	}
	return records, partial
}

func (s *service) cashbackRate(ctx context.Context, repo Repository, level int) (decimal.Decimal, error) {
	rate, ok, err := repo.CashbackRate(ctx, level)
	if err != nil {
		return decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load member level")
	}
	if !ok {
		return defaultCashbackRate(level), nil
	}
	return rate, nil
}

func outcomeFor(err error) string {
	switch {
	case err == nil:
		return "settled"
	case pkgerrors.Is(err, pkgerrors.CodeInsufficientFunds):
		return "insufficient_funds"
	case pkgerrors.Is(err, pkgerrors.CodePriceNotConfigured):
		return "price_not_configured"
	case pkgerrors.Is(err, pkgerrors.CodeFulfillmentRejected):
		return "rejected"
	case pkgerrors.Is(err, pkgerrors.CodeRemoteUnavailable):
		return "unavailable"
	case pkgerrors.Is(err, pkgerrors.CodeValidation):
		return "invalid"
	default:
		return "error"
	}
}

func (s *service) ListOrders(ctx context.Context, userID uuid.UUID, params pagination.Params) (*OrderPage, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.ListOrders(ctx, userID, pagination.LimitWithBuffer(params.Limit), cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list orders")
	}
	orders, next := pagination.Trim(rows, params.Limit, func(o models.Order) pagination.Cursor {
		return pagination.Cursor{CreatedAt: o.CreatedAt, ID: o.ID}
	})
	return &OrderPage{Orders: orders, NextCursor: next}, nil
}

func (s *service) GetOrder(ctx context.Context, userID, orderID uuid.UUID) (*OrderDetail, error) {
	order, err := s.repo.FindOrder(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order")
	}
	if order == nil || order.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	cashback, err := s.repo.CashbackForOrder(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load cashback")
	}
	return &OrderDetail{Order: *order, Cashback: cashback}, nil
}

func (s *service) MemberLevels(ctx context.Context) ([]models.MemberLevel, error) {
	rows, err := s.repo.MemberLevels(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list member levels")
	}
	return rows, nil
}

func (s *service) SetMemberLevel(ctx context.Context, userID uuid.UUID, level int) error {
	if !validMemberLevel(level) {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("member level must be between %d and %d", minMemberLevel, maxMemberLevel))
	}
	updated, err := s.repo.SetMemberLevel(ctx, userID, level)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update member level")
	}
	if !updated {
		return pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
	}
	return nil
}

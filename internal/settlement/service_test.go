package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/smmhub-backend/internal/catalog"
	"github.com/angelmondragon/smmhub-backend/internal/commission"
	"github.com/angelmondragon/smmhub-backend/internal/ledger"
	"github.com/angelmondragon/smmhub-backend/internal/referral"
	dbpkg "github.com/angelmondragon/smmhub-backend/pkg/db"
	"github.com/angelmondragon/smmhub-backend/pkg/db/dbtest"
	"github.com/angelmondragon/smmhub-backend/pkg/db/models"
	"github.com/angelmondragon/smmhub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/smmhub-backend/pkg/errors"
	"github.com/angelmondragon/smmhub-backend/pkg/logger"
	"github.com/angelmondragon/smmhub-backend/pkg/outbox"
	"github.com/angelmondragon/smmhub-backend/pkg/pagination"
	"github.com/angelmondragon/smmhub-backend/pkg/smmapi"
)

const testServiceID = 1001

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakeFulfiller struct {
	calls atomic.Int32
	fn    func(ctx context.Context, req smmapi.AddOrderRequest) (string, error)
}

func (f *fakeFulfiller) AddOrder(ctx context.Context, req smmapi.AddOrderRequest) (string, error) {
	n := f.calls.Add(1)
	if f.fn != nil {
		return f.fn(ctx, req)
	}
	return fmt.Sprintf("ext-%d", n), nil
}

type failingSettler struct{}

func (failingSettler) Settle(context.Context, *models.Order) ([]models.CommissionRecord, error) {
	return nil, errors.New("commission store offline")
}

func (failingSettler) SettleTx(ctx context.Context, tx *gorm.DB, _ *models.Order) ([]models.CommissionRecord, error) {
	// Leave a write behind so the test can prove the savepoint was rolled back.
	if err := tx.WithContext(ctx).Create(&models.CommissionConfig{AgentLevel: 99, IsActive: true}).Error; err != nil {
		return nil, err
	}
	return nil, errors.New("commission store offline")
}

type fixture struct {
	db        *gorm.DB
	fulfiller *fakeFulfiller
	settler   commission.Settler
	timeout   time.Duration
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := dbtest.New(t)
	require.NoError(t, db.Create(&models.ServicePrice{
		ServiceID:     testServiceID,
		ServiceName:   "Instagram followers",
		Category:      "instagram",
		APIPrice:      dec("12.00"),
		CustomerPrice: dec("20.00"),
		MinQuantity:   1,
		MaxQuantity:   100,
		IsActive:      true,
	}).Error)
	return &fixture{db: db, fulfiller: &fakeFulfiller{}}
}

func (f *fixture) service(t *testing.T) Service {
	t.Helper()
	ledgerSvc, err := ledger.NewService(ledger.NewRepository(f.db))
	require.NoError(t, err)
	catalogSvc, err := catalog.NewService(catalog.NewRepository(f.db), nil, nil)
	require.NoError(t, err)

	settler := f.settler
	if settler == nil {
		graph, err := referral.NewGraph(referral.NewRepository(f.db))
		require.NoError(t, err)
		engine, err := commission.NewEngine(commission.EngineParams{
			Tx:     dbpkg.FromGorm(f.db),
			Repo:   commission.NewRepository(f.db),
			Graph:  graph,
			Ledger: ledgerSvc,
			Defaults: commission.Defaults{
				DirectRate:   dec("0.05"),
				IndirectRate: dec("0.02"),
				MaxLevels:    3,
			},
		})
		require.NoError(t, err)
		settler = engine
	}

	svc, err := NewService(ServiceParams{
		Tx:                 dbpkg.FromGorm(f.db),
		Repo:               NewRepository(f.db),
		Catalog:            catalogSvc,
		Ledger:             ledgerSvc,
		Commission:         settler,
		Fulfillment:        f.fulfiller,
		Outbox:             outbox.NewService(outbox.NewRepository(f.db), logger.Nop()),
		FulfillmentTimeout: f.timeout,
	})
	require.NoError(t, err)
	return svc
}

func submit(userID uuid.UUID, quantity int) SubmitRequest {
	return SubmitRequest{
		UserID:    userID,
		ServiceID: testServiceID,
		Quantity:  quantity,
		Link:      "https://instagram.example/p/abc",
	}
}

func (f *fixture) outboxTypes(t *testing.T) []enums.OutboxEventType {
	t.Helper()
	var rows []models.OutboxEvent
	require.NoError(t, f.db.Order("created_at ASC").Find(&rows).Error)
	types := make([]enums.OutboxEventType, 0, len(rows))
	for _, row := range rows {
		types = append(types, row.EventType)
	}
	return types
}

func TestSubmitChargesAndCreditsCashback(t *testing.T) {
	f := newFixture(t)
	buyer := dbtest.SeedUser(t, f.db, dbtest.WithBalance("100.00"))

	result, err := f.service(t).Submit(context.Background(), submit(buyer.ID, 2))
	require.NoError(t, err)

	assert.Equal(t, "40.00", result.Charge.StringFixed(2))
	assert.Equal(t, "0.80", result.Cashback.StringFixed(2))
	assert.Equal(t, "0.02", result.CashbackRate.StringFixed(2))
	assert.Equal(t, enums.OrderStatusPending, result.Order.Status)
	assert.Equal(t, "ext-1", result.Order.ExternalOrderID)
	assert.Empty(t, result.Commissions)
	assert.NoError(t, result.CommissionError)
	assert.Contains(t, result.Summary, "40.00")

	reloaded := dbtest.ReloadUser(t, f.db, buyer.ID)
	assert.Equal(t, "60.80", reloaded.Balance.StringFixed(2))
	assert.Equal(t, "40.00", reloaded.TotalConsumed.StringFixed(2))
	assert.Equal(t, "0.80", reloaded.TotalCashback.StringFixed(2))

	var orders []models.Order
	require.NoError(t, f.db.Find(&orders).Error)
	require.Len(t, orders, 1)
	assert.Equal(t, "40.00", orders[0].Charge.StringFixed(2))

	var cashback []models.CashbackRecord
	require.NoError(t, f.db.Find(&cashback).Error)
	require.Len(t, cashback, 1)
	assert.Equal(t, "0.80", cashback[0].Amount.StringFixed(2))
	assert.Equal(t, orders[0].ID, cashback[0].OrderID)

	var entries []models.LedgerEntry
	require.NoError(t, f.db.Where("user_id = ?", buyer.ID).Order("created_at ASC").Find(&entries).Error)
	require.Len(t, entries, 2)
	assert.Equal(t, enums.LedgerCategoryOrderCharge, entries[0].Category)
	assert.Equal(t, enums.LedgerCategoryCashback, entries[1].Category)

	assert.Equal(t, []enums.OutboxEventType{enums.EventOrderSettled}, f.outboxTypes(t))
}

func TestSubmitBalanceEquationAcrossTiers(t *testing.T) {
	cases := []struct {
		level    int
		cashback string
	}{
		{level: 1, cashback: "0.80"},
		{level: 2, cashback: "4.00"},
		{level: 3, cashback: "6.00"},
		{level: 4, cashback: "8.00"},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("level %d", tc.level), func(t *testing.T) {
			f := newFixture(t)
			buyer := dbtest.SeedUser(t, f.db, dbtest.WithBalance("100.00"), dbtest.WithMemberLevel(tc.level))

			result, err := f.service(t).Submit(context.Background(), submit(buyer.ID, 2))
			require.NoError(t, err)
			assert.Equal(t, tc.cashback, result.Cashback.StringFixed(2))

			want := dec("100.00").Sub(result.Charge).Add(result.Cashback)
			got := dbtest.ReloadUser(t, f.db, buyer.ID).Balance
			assert.True(t, want.Equal(got), "balance %s want %s", got, want)
		})
	}
}

func TestSubmitPaysReferralChain(t *testing.T) {
	f := newFixture(t)
	b := dbtest.SeedUser(t, f.db, dbtest.AsAgent(1))
	a := dbtest.SeedUser(t, f.db, dbtest.AsAgent(1), dbtest.WithInviter(b.ID))
	buyer := dbtest.SeedUser(t, f.db, dbtest.WithBalance("100.00"), dbtest.WithInviter(a.ID))

	result, err := f.service(t).Submit(context.Background(), submit(buyer.ID, 2))
	require.NoError(t, err)
	require.Len(t, result.Commissions, 2)
	assert.Equal(t, a.ID, result.Commissions[0].AgentID)
	assert.Equal(t, "2.00", result.Commissions[0].CommissionAmount.StringFixed(2))
	assert.Equal(t, b.ID, result.Commissions[1].AgentID)
	assert.Equal(t, "0.80", result.Commissions[1].CommissionAmount.StringFixed(2))

	assert.Equal(t, "2.00", dbtest.ReloadUser(t, f.db, a.ID).Balance.StringFixed(2))
	assert.Equal(t, "0.80", dbtest.ReloadUser(t, f.db, b.ID).Balance.StringFixed(2))
	assert.Equal(t, "60.80", dbtest.ReloadUser(t, f.db, buyer.ID).Balance.StringFixed(2))
}

func TestSubmitCompensatesRejectedOrder(t *testing.T) {
	f := newFixture(t)
	f.fulfiller.fn = func(context.Context, smmapi.AddOrderRequest) (string, error) {
		return "", pkgerrors.New(pkgerrors.CodeFulfillmentRejected, "Incorrect link")
	}
	buyer := dbtest.SeedUser(t, f.db, dbtest.WithBalance("100.00"))

	_, err := f.service(t).Submit(context.Background(), submit(buyer.ID, 2))
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeFulfillmentRejected))

	reloaded := dbtest.ReloadUser(t, f.db, buyer.ID)
	assert.Equal(t, "100.00", reloaded.Balance.StringFixed(2))
	assert.Equal(t, "0.00", reloaded.TotalConsumed.StringFixed(2))

	var orders int64
	require.NoError(t, f.db.Model(&models.Order{}).Count(&orders).Error)
	assert.Zero(t, orders)

	var refund models.LedgerEntry
	require.NoError(t, f.db.Where("category = ?", enums.LedgerCategoryOrderRefund).Take(&refund).Error)
	assert.Equal(t, "40.00", refund.Amount.StringFixed(2))
	assert.Equal(t, []enums.OutboxEventType{enums.EventFulfillmentCompensated}, f.outboxTypes(t))
}

func TestSubmitCompensatesTimeout(t *testing.T) {
	f := newFixture(t)
	f.timeout = 20 * time.Millisecond
	f.fulfiller.fn = func(ctx context.Context, _ smmapi.AddOrderRequest) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}
	buyer := dbtest.SeedUser(t, f.db, dbtest.WithBalance("100.00"))

	_, err := f.service(t).Submit(context.Background(), submit(buyer.ID, 2))
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeRemoteUnavailable))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "100.00", dbtest.ReloadUser(t, f.db, buyer.ID).Balance.StringFixed(2))
}

func TestSubmitKeepsAcceptedOrderWhenCallerGoesAway(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.fulfiller.fn = func(context.Context, smmapi.AddOrderRequest) (string, error) {
		cancel()
		return "ext-accepted", nil
	}
	buyer := dbtest.SeedUser(t, f.db, dbtest.WithBalance("100.00"))

	result, err := f.service(t).Submit(ctx, submit(buyer.ID, 2))
	require.NoError(t, err)
	assert.Equal(t, "ext-accepted", result.Order.ExternalOrderID)
	assert.EqualValues(t, 1, f.fulfiller.calls.Load())

	var orders []models.Order
	require.NoError(t, f.db.Find(&orders).Error)
	require.Len(t, orders, 1)
	assert.Equal(t, "ext-accepted", orders[0].ExternalOrderID)

	var cashback int64
	require.NoError(t, f.db.Model(&models.CashbackRecord{}).Count(&cashback).Error)
	assert.EqualValues(t, 1, cashback)

	var refunds int64
	require.NoError(t, f.db.Model(&models.LedgerEntry{}).Where("category = ?", enums.LedgerCategoryOrderRefund).Count(&refunds).Error)
	assert.Zero(t, refunds)
	assert.Equal(t, "60.80", dbtest.ReloadUser(t, f.db, buyer.ID).Balance.StringFixed(2))
}

func TestSubmitInsufficientFundsSkipsProvider(t *testing.T) {
	f := newFixture(t)
	buyer := dbtest.SeedUser(t, f.db, dbtest.WithBalance("10.00"))

	_, err := f.service(t).Submit(context.Background(), submit(buyer.ID, 2))
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeInsufficientFunds))
	assert.Zero(t, f.fulfiller.calls.Load())
	assert.Equal(t, "10.00", dbtest.ReloadUser(t, f.db, buyer.ID).Balance.StringFixed(2))
	assert.Empty(t, f.outboxTypes(t))
}

func TestSubmitRejectsBeforeMovingMoney(t *testing.T) {
	f := newFixture(t)
	buyer := dbtest.SeedUser(t, f.db, dbtest.WithBalance("100.00"))
	svc := f.service(t)

	unknown := submit(buyer.ID, 2)
	unknown.ServiceID = 4242
	_, err := svc.Submit(context.Background(), unknown)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodePriceNotConfigured))

	_, err = svc.Submit(context.Background(), submit(buyer.ID, 101))
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))

	comments := submit(buyer.ID, 2)
	comments.OrderType = OrderTypeComments
	_, err = svc.Submit(context.Background(), comments)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))

	noLink := submit(buyer.ID, 2)
	noLink.Link = "  "
	_, err = svc.Submit(context.Background(), noLink)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))

	assert.Zero(t, f.fulfiller.calls.Load())
	assert.Equal(t, "100.00", dbtest.ReloadUser(t, f.db, buyer.ID).Balance.StringFixed(2))
}

func TestSubmitConcurrentDebitsOnlyOneWins(t *testing.T) {
	f := newFixture(t)
	buyer := dbtest.SeedUser(t, f.db, dbtest.WithBalance("40.00"))
	svc := f.service(t)

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		short     atomic.Int32
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Submit(context.Background(), submit(buyer.ID, 2))
			switch {
			case err == nil:
				successes.Add(1)
			case pkgerrors.Is(err, pkgerrors.CodeInsufficientFunds):
				short.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, successes.Load())
	assert.EqualValues(t, 1, short.Load())
	assert.EqualValues(t, 1, f.fulfiller.calls.Load())
	assert.Equal(t, "0.80", dbtest.ReloadUser(t, f.db, buyer.ID).Balance.StringFixed(2))
}

func TestSubmitKeepsOrderWhenCommissionFails(t *testing.T) {
	f := newFixture(t)
	f.settler = failingSettler{}
	buyer := dbtest.SeedUser(t, f.db, dbtest.WithBalance("100.00"))

	result, err := f.service(t).Submit(context.Background(), submit(buyer.ID, 2))
	require.NoError(t, err)
	require.Error(t, result.CommissionError)

	var orders int64
	require.NoError(t, f.db.Model(&models.Order{}).Count(&orders).Error)
	assert.EqualValues(t, 1, orders)

	var leaked int64
	require.NoError(t, f.db.Model(&models.CommissionConfig{}).Where("agent_level = ?", 99).Count(&leaked).Error)
	assert.Zero(t, leaked)
	assert.Equal(t, "60.80", dbtest.ReloadUser(t, f.db, buyer.ID).Balance.StringFixed(2))
}

func TestListAndGetOrders(t *testing.T) {
	f := newFixture(t)
	buyer := dbtest.SeedUser(t, f.db, dbtest.WithBalance("500.00"))
	other := dbtest.SeedUser(t, f.db)
	svc := f.service(t)

	for i := 0; i < 3; i++ {
		_, err := svc.Submit(context.Background(), submit(buyer.ID, 1))
		require.NoError(t, err)
	}

	page, err := svc.ListOrders(context.Background(), buyer.ID, pagination.Params{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page.Orders, 2)
	assert.NotEmpty(t, page.NextCursor)

	rest, err := svc.ListOrders(context.Background(), buyer.ID, pagination.Params{Limit: 2, Cursor: page.NextCursor})
	require.NoError(t, err)
	assert.Len(t, rest.Orders, 1)
	assert.Empty(t, rest.NextCursor)

	detail, err := svc.GetOrder(context.Background(), buyer.ID, rest.Orders[0].ID)
	require.NoError(t, err)
	require.NotNil(t, detail.Cashback)
	assert.Equal(t, "0.40", detail.Cashback.Amount.StringFixed(2))

	_, err = svc.GetOrder(context.Background(), other.ID, rest.Orders[0].ID)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))
}

func TestSetMemberLevel(t *testing.T) {
	f := newFixture(t)
	user := dbtest.SeedUser(t, f.db)
	svc := f.service(t)

	require.NoError(t, svc.SetMemberLevel(context.Background(), user.ID, 3))
	assert.Equal(t, 3, dbtest.ReloadUser(t, f.db, user.ID).MemberLevel)

	assert.True(t, pkgerrors.Is(svc.SetMemberLevel(context.Background(), user.ID, 5), pkgerrors.CodeValidation))
	assert.True(t, pkgerrors.Is(svc.SetMemberLevel(context.Background(), uuid.New(), 2), pkgerrors.CodeNotFound))

	levels, err := svc.MemberLevels(context.Background())
	require.NoError(t, err)
	assert.Len(t, levels, 4)
}

func TestDefaultCashbackRateFallsBackToBaseTier(t *testing.T) {
	assert.Equal(t, "0.15", defaultCashbackRate(3).StringFixed(2))
	assert.Equal(t, "0.02", defaultCashbackRate(9).StringFixed(2))
}

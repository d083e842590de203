package catalog

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/smmhub-backend/pkg/db/dbtest"
	pkgerrors "github.com/angelmondragon/smmhub-backend/pkg/errors"
	"github.com/angelmondragon/smmhub-backend/pkg/smmapi"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type stubProvider struct {
	services []smmapi.Service
	err      error
}

func (s stubProvider) Services(context.Context) ([]smmapi.Service, error) {
	return s.services, s.err
}

func newCatalog(t *testing.T, provider providerCatalog) Service {
	t.Helper()
	svc, err := NewService(NewRepository(dbtest.New(t)), provider, nil)
	require.NoError(t, err)
	return svc
}

func followers(active bool) UpsertInput {
	return UpsertInput{
		ServiceID:     1001,
		ServiceName:   "Douyin followers",
		Category:      "douyin",
		APIPrice:      dec("8.00"),
		CustomerPrice: dec("10.00"),
		IsActive:      active,
	}
}

func TestUpsertReturnsProfitPreview(t *testing.T) {
	svc := newCatalog(t, nil)
	ctx := context.Background()

	view, err := svc.Upsert(ctx, followers(true))
	require.NoError(t, err)
	assert.Equal(t, "2.00", view.Profit.StringFixed(2))
	assert.Equal(t, "25.00", view.ProfitRate.StringFixed(2))
	assert.Equal(t, 1, view.Price.MinQuantity)
	assert.Equal(t, 10000, view.Price.MaxQuantity)

	input := followers(true)
	input.CustomerPrice = dec("12.00")
	input.MinQuantity, input.MaxQuantity = 50, 500
	updated, err := svc.Upsert(ctx, input)
	require.NoError(t, err)
	assert.Equal(t, view.Price.ID, updated.Price.ID)
	assert.Equal(t, "12.00", updated.Price.CustomerPrice.StringFixed(2))
	assert.Equal(t, 50, updated.Price.MinQuantity)
}

func TestUpsertValidation(t *testing.T) {
	svc := newCatalog(t, nil)
	input := followers(true)
	input.CustomerPrice = decimal.Zero
	input.MinQuantity, input.MaxQuantity = 10, 5

	_, err := svc.Upsert(context.Background(), input)
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
	details := pkgerrors.As(err).Details().(map[string]any)
	assert.Contains(t, details, "customer_price")
	assert.Contains(t, details, "quantity")
}

func TestActivePriceRequiresActiveRow(t *testing.T) {
	svc := newCatalog(t, nil)
	ctx := context.Background()

	_, err := svc.ActivePrice(ctx, 1001)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodePriceNotConfigured))

	_, err = svc.Upsert(ctx, followers(false))
	require.NoError(t, err)
	_, err = svc.ActivePrice(ctx, 1001)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodePriceNotConfigured))

	_, err = svc.Upsert(ctx, followers(true))
	require.NoError(t, err)
	price, err := svc.ActivePrice(ctx, 1001)
	require.NoError(t, err)
	assert.Equal(t, "10.00", price.CustomerPrice.StringFixed(2))

	listed, err := svc.ListActive(ctx, "douyin")
	require.NoError(t, err)
	assert.Len(t, listed, 1)
	listed, err = svc.ListActive(ctx, "weibo")
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestSyncRefreshesListedCosts(t *testing.T) {
	provider := stubProvider{services: []smmapi.Service{
		{ID: 1001, Name: "Followers", Rate: dec("8.50"), Min: 20, Max: 20000},
		{ID: 2002, Name: "Likes", Rate: dec("1.00"), Min: 10, Max: 100},
	}}
	svc := newCatalog(t, provider)
	ctx := context.Background()

	_, err := svc.Upsert(ctx, followers(true))
	require.NoError(t, err)
	orphan := followers(true)
	orphan.ServiceID = 3003
	_, err = svc.Upsert(ctx, orphan)
	require.NoError(t, err)

	result, err := svc.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, &SyncResult{Updated: 1, Unlisted: 1, Missing: 1}, result)

	price, err := svc.ActivePrice(ctx, 1001)
	require.NoError(t, err)
	assert.Equal(t, "8.50", price.APIPrice.StringFixed(2))
	assert.Equal(t, "10.00", price.CustomerPrice.StringFixed(2))
	assert.Equal(t, 20, price.MinQuantity)
	assert.Equal(t, 20000, price.MaxQuantity)

	again, err := svc.Sync(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.Updated)
}

func TestSyncWithoutProvider(t *testing.T) {
	_, err := newCatalog(t, nil).Sync(context.Background())
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeDependency))
}

func TestProfitReport(t *testing.T) {
	svc := newCatalog(t, nil)
	ctx := context.Background()
	_, err := svc.Upsert(ctx, followers(true))
	require.NoError(t, err)
	second := followers(true)
	second.ServiceID = 2002
	second.APIPrice, second.CustomerPrice = dec("2.00"), dec("3.00")
	_, err = svc.Upsert(ctx, second)
	require.NoError(t, err)

	report, err := svc.ProfitReport(ctx)
	require.NoError(t, err)
	assert.Len(t, report.Lines, 2)
	assert.Equal(t, "3.00", report.TotalProfit.StringFixed(2))
	assert.Equal(t, "30.00", report.OverallRatePct.StringFixed(2))
}

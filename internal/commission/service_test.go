package commission

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/smmhub-backend/internal/referral"
	"github.com/angelmondragon/smmhub-backend/pkg/db/dbtest"
	"github.com/angelmondragon/smmhub-backend/pkg/db/models"
	"github.com/angelmondragon/smmhub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/smmhub-backend/pkg/errors"
	"github.com/angelmondragon/smmhub-backend/pkg/pagination"
)

func (f *fixture) service(t *testing.T) Service {
	t.Helper()
	svc, err := NewService(f.repo, f.graph, referral.NewRepository(f.db))
	require.NoError(t, err)
	return svc
}

func settledRecords(t *testing.T, f *fixture) ([]models.CommissionRecord, models.User) {
	t.Helper()
	consumer, a, _ := f.chain(t)
	records, err := f.engine(t).Settle(context.Background(), f.order(t, consumer.ID, "40.00"))
	require.NoError(t, err)
	require.Len(t, records, 2)
	return records, a
}

func TestPayMovesPendingToPaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	records, _ := settledRecords(t, f)
	svc := f.service(t)

	paid, err := svc.Pay(ctx, records[0].ID)
	require.NoError(t, err)
	assert.Equal(t, enums.CommissionStatusPaid, paid.Status)
	require.NotNil(t, paid.PaidAt)

	_, err = svc.Pay(ctx, records[0].ID)
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeStateConflict))

	_, err = svc.Cancel(ctx, records[0].ID)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeStateConflict))
}

func TestCancelLeavesBalanceUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	records, agent := settledRecords(t, f)

	cancelled, err := f.service(t).Cancel(ctx, records[0].ID)
	require.NoError(t, err)
	assert.Equal(t, enums.CommissionStatusCancelled, cancelled.Status)
	assert.Nil(t, cancelled.PaidAt)
	assert.Equal(t, "2.00", dbtest.ReloadUser(t, f.db, agent.ID).Balance.StringFixed(2))
}

func TestPayUnknownRecord(t *testing.T) {
	f := newFixture(t)
	_, err := f.service(t).Pay(context.Background(), uuid.New())
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))
}

func TestUpsertConfigValidatesAndReplaces(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := f.service(t)

	cases := []ConfigInput{
		{AgentLevel: 1, DirectRate: dec("1.00"), IndirectRate: dec("0"), MaxLevels: 3},
		{AgentLevel: 1, DirectRate: dec("-0.01"), IndirectRate: dec("0"), MaxLevels: 3},
		{AgentLevel: 1, DirectRate: dec("0.60"), IndirectRate: dec("0.40"), MaxLevels: 3},
		{AgentLevel: 1, DirectRate: dec("0.05"), IndirectRate: dec("0.02"), MaxLevels: 0},
	}
	for _, input := range cases {
		_, err := svc.UpsertConfig(ctx, input)
		assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation), "input %+v", input)
	}

	created, err := svc.UpsertConfig(ctx, ConfigInput{AgentLevel: 1, DirectRate: dec("0.05"), IndirectRate: dec("0.02"), MaxLevels: 3, IsActive: true})
	require.NoError(t, err)
	updated, err := svc.UpsertConfig(ctx, ConfigInput{AgentLevel: 1, DirectRate: dec("0.08"), IndirectRate: dec("0.03"), MaxLevels: 2, IsActive: false})
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, "0.08", updated.DirectRate.StringFixed(2))
	assert.Equal(t, 2, updated.MaxLevels)
	assert.False(t, updated.IsActive)

	configs, err := svc.ListConfigs(ctx)
	require.NoError(t, err)
	assert.Len(t, configs, 1)
}

func TestListByAgentPaginates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	consumer, a, _ := f.chain(t)
	engine := f.engine(t)
	for i := 0; i < 3; i++ {
		_, err := engine.Settle(ctx, f.order(t, consumer.ID, "10.00"))
		require.NoError(t, err)
	}
	svc := f.service(t)

	first, err := svc.ListByAgent(ctx, a.ID, pagination.Params{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, first.Records, 2)
	require.NotEmpty(t, first.NextCursor)

	second, err := svc.ListByAgent(ctx, a.ID, pagination.Params{Limit: 2, Cursor: first.NextCursor})
	require.NoError(t, err)
	assert.Len(t, second.Records, 1)
	assert.Empty(t, second.NextCursor)

	indirect := enums.CommissionTypeIndirect
	all, err := svc.ListAll(ctx, ListFilter{Type: &indirect}, pagination.Params{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, all.Records, 3)
}

func TestStatsSummarisesAgent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	records, a := settledRecords(t, f)
	svc := f.service(t)
	_, err := svc.Pay(ctx, records[0].ID)
	require.NoError(t, err)

	// a has the consumer directly below it; the consumer's invitee is second level.
	dbtest.SeedUser(t, f.db, dbtest.WithInviter(records[0].ConsumerID))

	stats, err := svc.Stats(ctx, a.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.DirectInvitees)
	assert.EqualValues(t, 1, stats.IndirectInvitees)
	assert.EqualValues(t, 2, stats.TotalInvitees)
	assert.EqualValues(t, 1, stats.TotalRecords)
	assert.EqualValues(t, 1, stats.PaidRecords)
	assert.EqualValues(t, 0, stats.PendingRecords)
	assert.Equal(t, "2.00", stats.TotalDirectCommission.StringFixed(2))
	assert.Equal(t, "2.00", stats.TotalCommission.StringFixed(2))

	plain := dbtest.SeedUser(t, f.db)
	_, err = svc.Stats(ctx, plain.ID)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))
}

package referral

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/smmhub-backend/pkg/db/dbtest"
	"github.com/angelmondragon/smmhub-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/smmhub-backend/pkg/errors"
	"github.com/angelmondragon/smmhub-backend/pkg/pagination"
)

func newGraph(t *testing.T) (Graph, *gorm.DB) {
	t.Helper()
	db := dbtest.New(t)
	g, err := NewGraph(NewRepository(db))
	require.NoError(t, err)
	return g, db
}

// chain seeds root <- u1 <- u2 ... and returns them root first.
func chain(t *testing.T, db *gorm.DB, n int) []models.User {
	t.Helper()
	users := []models.User{dbtest.SeedUser(t, db)}
	for i := 1; i < n; i++ {
		users = append(users, dbtest.SeedUser(t, db, dbtest.WithInviter(users[i-1].ID)))
	}
	return users
}

func ids(users []models.User) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(users))
	for _, u := range users {
		out = append(out, u.ID)
	}
	return out
}

func TestChainAboveNearestFirstAndBounded(t *testing.T) {
	g, db := newGraph(t)
	users := chain(t, db, 5) // u0 <- u1 <- u2 <- u3 <- u4

	got, err := g.ChainAbove(context.Background(), users[4].ID, 3)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{users[3].ID, users[2].ID, users[1].ID}, ids(got))

	got, err = g.ChainAbove(context.Background(), users[1].ID, 3)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{users[0].ID}, ids(got))

	got, err = g.ChainAbove(context.Background(), users[0].ID, 3)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestChainAboveStopsAtMissingInviter(t *testing.T) {
	g, db := newGraph(t)
	orphan := dbtest.SeedUser(t, db, dbtest.WithInviter(uuid.New()))

	got, err := g.ChainAbove(context.Background(), orphan.ID, 3)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestChainAboveTerminatesOnCycle(t *testing.T) {
	g, db := newGraph(t)
	a := dbtest.SeedUser(t, db)
	b := dbtest.SeedUser(t, db, dbtest.WithInviter(a.ID))
	c := dbtest.SeedUser(t, db, dbtest.WithInviter(b.ID))
	// corrupt: a's inviter is c, closing a <- b <- c <- a
	require.NoError(t, db.Model(&models.User{}).Where("id = ?", a.ID).Update("inviter_id", c.ID).Error)

	got, err := g.ChainAbove(context.Background(), c.ID, 10)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{b.ID, a.ID}, ids(got))
	assert.LessOrEqual(t, len(got), 10)
}

func TestChainAboveUnknownUser(t *testing.T) {
	g, _ := newGraph(t)
	_, err := g.ChainAbove(context.Background(), uuid.New(), 3)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))
}

func TestSubtreeBelowRespectsDepth(t *testing.T) {
	g, db := newGraph(t)
	users := chain(t, db, 5)
	sibling := dbtest.SeedUser(t, db, dbtest.WithInviter(users[0].ID))

	tree, err := g.SubtreeBelow(context.Background(), users[0].ID, 3)
	require.NoError(t, err)
	assert.Equal(t, 0, tree.Depth)
	require.Len(t, tree.Children, 2)

	var viaChain *TreeNode
	for _, child := range tree.Children {
		assert.Equal(t, 1, child.Depth)
		if child.ID == users[1].ID {
			viaChain = child
		} else {
			assert.Equal(t, sibling.ID, child.ID)
		}
	}
	require.NotNil(t, viaChain)
	require.Len(t, viaChain.Children, 1)
	grandchild := viaChain.Children[0]
	assert.Equal(t, users[2].ID, grandchild.ID)
	assert.Equal(t, 2, grandchild.Depth)
	assert.Empty(t, grandchild.Children, "depth 3 must not be materialised")
}

func TestSubtreeBelowSurvivesCycle(t *testing.T) {
	g, db := newGraph(t)
	a := dbtest.SeedUser(t, db)
	b := dbtest.SeedUser(t, db, dbtest.WithInviter(a.ID))
	require.NoError(t, db.Model(&models.User{}).Where("id = ?", a.ID).Update("inviter_id", b.ID).Error)

	tree, err := g.SubtreeBelow(context.Background(), a.ID, 10)
	require.NoError(t, err)
	require.Len(t, tree.Children, 1)
	assert.Empty(t, tree.Children[0].Children)
}

func TestLinkRules(t *testing.T) {
	g, db := newGraph(t)
	ctx := context.Background()
	a := dbtest.SeedUser(t, db)
	b := dbtest.SeedUser(t, db)

	codeA, err := g.EnsureInviteCode(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, ValidInviteCode(codeA))

	t.Run("self invite", func(t *testing.T) {
		_, err := g.Link(ctx, a.ID, codeA)
		assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
	})

	t.Run("links b under a", func(t *testing.T) {
		inviter, err := g.Link(ctx, b.ID, codeA)
		require.NoError(t, err)
		assert.Equal(t, a.ID, inviter.ID)
		reloaded := dbtest.ReloadUser(t, db, b.ID)
		require.NotNil(t, reloaded.InviterID)
		assert.Equal(t, a.ID, *reloaded.InviterID)
	})

	t.Run("already linked", func(t *testing.T) {
		_, err := g.Link(ctx, b.ID, codeA)
		assert.True(t, pkgerrors.Is(err, pkgerrors.CodeConflict))
	})

	t.Run("cycle", func(t *testing.T) {
		codeB, err := g.EnsureInviteCode(ctx, b.ID)
		require.NoError(t, err)
		_, err = g.Link(ctx, a.ID, codeB)
		assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
		assert.Nil(t, dbtest.ReloadUser(t, db, a.ID).InviterID)
	})

	t.Run("unknown code", func(t *testing.T) {
		c := dbtest.SeedUser(t, db)
		_, err := g.Link(ctx, c.ID, "ZZZZZZZZ")
		assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))
	})

	t.Run("malformed code", func(t *testing.T) {
		c := dbtest.SeedUser(t, db)
		_, err := g.Link(ctx, c.ID, "abc")
		assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
	})
}

func TestEnsureInviteCodeIsStable(t *testing.T) {
	g, db := newGraph(t)
	u := dbtest.SeedUser(t, db)

	first, err := g.EnsureInviteCode(context.Background(), u.ID)
	require.NoError(t, err)
	second, err := g.EnsureInviteCode(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestCountsAndInvitees(t *testing.T) {
	g, db := newGraph(t)
	ctx := context.Background()
	agent := dbtest.SeedUser(t, db)
	d1 := dbtest.SeedUser(t, db, dbtest.WithInviter(agent.ID))
	dbtest.SeedUser(t, db, dbtest.WithInviter(agent.ID))
	dbtest.SeedUser(t, db, dbtest.WithInviter(d1.ID))
	dbtest.SeedUser(t, db, dbtest.WithInviter(d1.ID))

	counts, err := g.Counts(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts.Direct)
	assert.Equal(t, int64(2), counts.Indirect)
	assert.Equal(t, int64(4), counts.Total)

	page, err := g.Invitees(ctx, agent.ID, pagination.Params{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, page.Invitees, 2)
	assert.Empty(t, page.NextCursor)
}

func TestGenerateInviteCodeShape(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		code, err := GenerateInviteCode()
		require.NoError(t, err)
		require.True(t, ValidInviteCode(code), code)
		seen[code] = true
	}
	assert.Greater(t, len(seen), 45)
}

package referral

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/smmhub-backend/pkg/db"
	"github.com/angelmondragon/smmhub-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/smmhub-backend/pkg/errors"
	"github.com/angelmondragon/smmhub-backend/pkg/pagination"
)

const (
	// DefaultMaxDepth bounds invite trees when the caller does not choose.
	DefaultMaxDepth    = 3
	// linkWalkLimit caps the ancestor walk used for cycle detection.
	linkWalkLimit      = 1024
	inviteCodeAttempts = 5
)

// Graph answers questions about the invite forest formed by users.inviter_id.
type Graph interface {
	WithTx(tx *gorm.DB) Graph
	ChainAbove(ctx context.Context, userID uuid.UUID, maxLevels int) ([]models.User, error)
	SubtreeBelow(ctx context.Context, userID uuid.UUID, maxDepth int) (*TreeNode, error)
	Link(ctx context.Context, userID uuid.UUID, inviteCode string) (*models.User, error)
	EnsureInviteCode(ctx context.Context, userID uuid.UUID) (string, error)
	Counts(ctx context.Context, agentID uuid.UUID) (*InviteeCounts, error)
	Invitees(ctx context.Context, agentID uuid.UUID, params pagination.Params) (*InviteePage, error)
}

// TreeNode is one user in an invite subtree.
type TreeNode struct {
	ID            uuid.UUID       `json:"id"`
	Username      string          `json:"username"`
	Email         string          `json:"email"`
	IsAgent       bool            `json:"is_agent"`
	AgentLevel    int             `json:"agent_level"`
	TotalConsumed decimal.Decimal `json:"total_consumed"`
	CreatedAt     time.Time       `json:"created_at"`
	Depth         int             `json:"depth"`
	Children      []*TreeNode     `json:"children"`
}

type InviteeCounts struct {
	Direct   int64 `json:"direct"`
	Indirect int64 `json:"indirect"`
	Total    int64 `json:"total"`
}

type Invitee struct {
	ID            uuid.UUID       `json:"id"`
	Username      string          `json:"username"`
	Email         string          `json:"email"`
	IsAgent       bool            `json:"is_agent"`
	TotalConsumed decimal.Decimal `json:"total_consumed"`
	CreatedAt     time.Time       `json:"created_at"`
}

type InviteePage struct {
	Invitees   []Invitee `json:"invitees"`
	NextCursor string    `json:"next_cursor,omitempty"`
}

type graph struct {
	repo Repository
}

func NewGraph(repo Repository) (Graph, error) {
	if repo == nil {
		return nil, fmt.Errorf("referral repository required")
	}
	return &graph{repo: repo}, nil
}

func (g *graph) WithTx(tx *gorm.DB) Graph {
	return &graph{repo: g.repo.WithTx(tx)}
}

// ChainAbove returns the inviters of userID, nearest first, stopping at maxLevels,
// at a user without inviter, or at the first repeated node.
func (g *graph) ChainAbove(ctx context.Context, userID uuid.UUID, maxLevels int) ([]models.User, error) {
	if maxLevels <= 0 {
		return nil, nil
	}
	current, err := g.repo.FindByID(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load user")
	}
	if current == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
	}

	visited := map[uuid.UUID]struct{}{userID: {}}
	chain := make([]models.User, 0, maxLevels)
	for len(chain) < maxLevels && current.InviterID != nil {
		next := *current.InviterID
		if _, seen := visited[next]; seen {
			break
		}
		visited[next] = struct{}{}

		inviter, err := g.repo.FindByID(ctx, next)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load inviter")
		}
		if inviter == nil {
			break
		}
		chain = append(chain, *inviter)
		current = inviter
	}
	return chain, nil
}

// SubtreeBelow builds the invite tree rooted at userID breadth first. The root
// sits at depth 0 and only depths below maxDepth are materialised.
func (g *graph) SubtreeBelow(ctx context.Context, userID uuid.UUID, maxDepth int) (*TreeNode, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	rootUser, err := g.repo.FindByID(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load user")
	}
	if rootUser == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
	}

	root := newTreeNode(*rootUser, 0)
	visited := map[uuid.UUID]struct{}{root.ID: {}}
	frontier := []*TreeNode{root}

	for depth := 1; depth < maxDepth && len(frontier) > 0; depth++ {
		byID := make(map[uuid.UUID]*TreeNode, len(frontier))
		ids := make([]uuid.UUID, 0, len(frontier))
		for _, node := range frontier {
			byID[node.ID] = node
			ids = append(ids, node.ID)
		}

		children, err := g.repo.ChildrenOf(ctx, ids)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load invitees")
		}

		next := make([]*TreeNode, 0, len(children))
		for _, child := range children {
			if _, seen := visited[child.ID]; seen {
				continue
			}
			parent, ok := byID[*child.InviterID]
			if !ok {
				continue
			}
			visited[child.ID] = struct{}{}
			node := newTreeNode(child, depth)
			parent.Children = append(parent.Children, node)
			next = append(next, node)
		}
		frontier = next
	}
	return root, nil
}

func newTreeNode(u models.User, depth int) *TreeNode {
	return &TreeNode{
		ID:            u.ID,
		Username:      u.Username,
		Email:         u.Email,
		IsAgent:       u.IsAgent,
		AgentLevel:    u.AgentLevel,
		TotalConsumed: u.TotalConsumed,
		CreatedAt:     u.CreatedAt,
		Depth:         depth,
		Children:      []*TreeNode{},
	}
}

// Link attaches userID under the owner of inviteCode. It refuses self invites,
// re-parenting, and any edge that would close a cycle.
func (g *graph) Link(ctx context.Context, userID uuid.UUID, inviteCode string) (*models.User, error) {
	code := strings.ToUpper(strings.TrimSpace(inviteCode))
	if !ValidInviteCode(code) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid invite code")
	}

	user, err := g.repo.FindByID(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load user")
	}
	if user == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
	}
	if user.InviterID != nil {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "user already has an inviter")
	}

	inviter, err := g.repo.FindByInviteCode(ctx, code)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup invite code")
	}
	if inviter == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "invite code not found")
	}
	if inviter.ID == userID {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cannot invite yourself")
	}

	// userID must not already be an ancestor of the inviter.
	ancestors, err := g.ChainAbove(ctx, inviter.ID, linkWalkLimit)
	if err != nil {
		return nil, err
	}
	for _, ancestor := range ancestors {
		if ancestor.ID == userID {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "invite would create a cycle")
		}
	}

	updated, err := g.repo.SetInviter(ctx, userID, inviter.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "set inviter")
	}
	if !updated {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "user already has an inviter")
	}
	return inviter, nil
}

// EnsureInviteCode returns the user's invite code, generating one when missing.
func (g *graph) EnsureInviteCode(ctx context.Context, userID uuid.UUID) (string, error) {
	user, err := g.repo.FindByID(ctx, userID)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load user")
	}
	if user == nil {
		return "", pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
	}
	if user.InviteCode != nil && *user.InviteCode != "" {
		return *user.InviteCode, nil
	}

	for attempt := 0; attempt < inviteCodeAttempts; attempt++ {
		code, err := GenerateInviteCode()
		if err != nil {
			return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate invite code")
		}
		updated, err := g.repo.SetInviteCode(ctx, userID, code)
		if err != nil {
			if dbpkg.IsUniqueViolation(err, "") {
				continue
			}
			return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "store invite code")
		}
		if !updated {
			// another request assigned one first
			current, err := g.repo.FindByID(ctx, userID)
			if err != nil || current == nil || current.InviteCode == nil {
				return "", pkgerrors.New(pkgerrors.CodeConflict, "invite code changed concurrently")
			}
			return *current.InviteCode, nil
		}
		return code, nil
	}
	return "", pkgerrors.New(pkgerrors.CodeConflict, "could not allocate a unique invite code")
}

func (g *graph) Counts(ctx context.Context, agentID uuid.UUID) (*InviteeCounts, error) {
	direct, err := g.repo.CountDirect(ctx, agentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count direct invitees")
	}
	indirect, err := g.repo.CountSecondLevel(ctx, agentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count indirect invitees")
	}
	return &InviteeCounts{Direct: direct, Indirect: indirect, Total: direct + indirect}, nil
}

func (g *graph) Invitees(ctx context.Context, agentID uuid.UUID, params pagination.Params) (*InviteePage, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := g.repo.ListDirectInvitees(ctx, agentID, pagination.LimitWithBuffer(params.Limit), cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list invitees")
	}
	rows, next := pagination.Trim(rows, params.Limit, func(u models.User) pagination.Cursor {
		return pagination.Cursor{CreatedAt: u.CreatedAt, ID: u.ID}
	})
	page := &InviteePage{Invitees: make([]Invitee, 0, len(rows)), NextCursor: next}
	for _, u := range rows {
		page.Invitees = append(page.Invitees, Invitee{
			ID:            u.ID,
			Username:      u.Username,
			Email:         u.Email,
			IsAgent:       u.IsAgent,
			TotalConsumed: u.TotalConsumed,
			CreatedAt:     u.CreatedAt,
		})
	}
	return page, nil
}

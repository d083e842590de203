package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/smmhub-backend/internal/referral"
	"github.com/angelmondragon/smmhub-backend/internal/users"
	"github.com/angelmondragon/smmhub-backend/pkg/config"
	dbpkg "github.com/angelmondragon/smmhub-backend/pkg/db"
	"github.com/angelmondragon/smmhub-backend/pkg/db/models"
	"github.com/angelmondragon/smmhub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/smmhub-backend/pkg/errors"
	"github.com/angelmondragon/smmhub-backend/pkg/logger"
	"github.com/angelmondragon/smmhub-backend/pkg/security"
)

// RegisterService handles the sign-up transaction.
type RegisterService interface {
	Register(ctx context.Context, req RegisterRequest) (*users.UserDTO, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type registerUserRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, dto users.CreateUserDTO) (*models.User, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// RegisterServiceParams packages the dependencies for the registration flow.
type RegisterServiceParams struct {
	TxRunner        txRunner
	UserRepoFactory func(tx *gorm.DB) registerUserRepository
	Referral        referral.Graph
	PasswordConfig  config.PasswordConfig
	Logger          *logger.Logger
}

type registerService struct {
	tx          txRunner
	userRepo    func(tx *gorm.DB) registerUserRepository
	referral    referral.Graph
	passwordCfg config.PasswordConfig
	logg        *logger.Logger
}

// NewRegisterService builds a registration service with the provided dependencies.
func NewRegisterService(params RegisterServiceParams) (RegisterService, error) {
	if params.TxRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "tx runner required")
	}
	if params.Referral == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "referral graph required")
	}
	factory := params.UserRepoFactory
	if factory == nil {
		factory = func(tx *gorm.DB) registerUserRepository { return users.NewRepository(tx) }
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &registerService{
		tx:          params.TxRunner,
		userRepo:    factory,
		referral:    params.Referral,
		passwordCfg: params.PasswordConfig,
		logg:        logg,
	}, nil
}

// Register creates the account, gives it its own invite code and, when an
// invite code was supplied, links it under the code's owner. Unknown codes
// fail the whole registration since the inviter cannot be set later.
func (s *registerService) Register(ctx context.Context, req RegisterRequest) (*users.UserDTO, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "email is required")
	}
	username := strings.TrimSpace(req.Username)
	if username == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "username is required")
	}
	if req.Password != req.ConfirmPassword {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "passwords do not match")
	}
	inviteCode := strings.ToUpper(strings.TrimSpace(req.InviteCode))

	passwordHash, err := security.HashPassword(req.Password, s.passwordCfg)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "hash password")
	}

	var created *models.User
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.userRepo(tx)

		if _, err := repo.FindByEmail(ctx, email); err == nil {
			return pkgerrors.New(pkgerrors.CodeConflict, "email already registered")
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check user email")
		}

		user, err := repo.Create(ctx, users.CreateUserDTO{
			Email:        email,
			Username:     username,
			PasswordHash: passwordHash,
			SystemRole:   enums.SystemRoleUser,
		})
		if err != nil {
			if dbpkg.IsUniqueViolation(err, "") {
				return pkgerrors.New(pkgerrors.CodeConflict, "email already registered")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create user")
		}

		graph := s.referral.WithTx(tx)
		if inviteCode != "" {
			if _, err := graph.Link(ctx, user.ID, inviteCode); err != nil {
				if pkgerrors.Is(err, pkgerrors.CodeNotFound) {
					return pkgerrors.New(pkgerrors.CodeValidation, "invite code not found")
				}
				return err
			}
		}
		if _, err := graph.EnsureInviteCode(ctx, user.ID); err != nil {
			return err
		}

		created, err = repo.FindByID(ctx, user.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload user")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	ctx = s.logg.WithUserID(ctx, created.ID.String())
	s.logg.Info(s.logg.WithField(ctx, "invited", created.InviterID != nil), "user registered")
	return users.FromModel(created), nil
}

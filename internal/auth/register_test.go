package auth

import (
	"context"
	"testing"

	"gorm.io/gorm"

	"github.com/angelmondragon/smmhub-backend/internal/referral"
	dbpkg "github.com/angelmondragon/smmhub-backend/pkg/db"
	"github.com/angelmondragon/smmhub-backend/pkg/db/dbtest"
	"github.com/angelmondragon/smmhub-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/smmhub-backend/pkg/errors"
	"github.com/angelmondragon/smmhub-backend/pkg/security"
)

func newRegisterService(t *testing.T) (RegisterService, *gorm.DB) {
	t.Helper()
	db := dbtest.New(t)
	graph, err := referral.NewGraph(referral.NewRepository(db))
	if err != nil {
		t.Fatalf("new graph: %v", err)
	}
	svc, err := NewRegisterService(RegisterServiceParams{
		TxRunner:       dbpkg.FromGorm(db),
		Referral:       graph,
		PasswordConfig: testPasswordConfig,
	})
	if err != nil {
		t.Fatalf("new register service: %v", err)
	}
	return svc, db
}

func sampleRegisterRequest(email string) RegisterRequest {
	return RegisterRequest{
		Email:           email,
		Username:        "jamie",
		Password:        "Secret123!",
		ConfirmPassword: "Secret123!",
	}
}

func TestRegisterCreatesUserWithInviteCode(t *testing.T) {
	svc, db := newRegisterService(t)

	dto, err := svc.Register(context.Background(), sampleRegisterRequest(" New@Example.com "))
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if dto.Email != "new@example.com" {
		t.Fatalf("expected normalised email, got %s", dto.Email)
	}
	if dto.InviteCode == nil || !referral.ValidInviteCode(*dto.InviteCode) {
		t.Fatalf("expected a generated invite code, got %v", dto.InviteCode)
	}
	if dto.MemberLevel != 1 || dto.InviterID != nil {
		t.Fatalf("unexpected defaults level=%d inviter=%v", dto.MemberLevel, dto.InviterID)
	}

	stored := dbtest.ReloadUser(t, db, dto.ID)
	if ok, err := security.VerifyPassword("Secret123!", stored.PasswordHash); err != nil || !ok {
		t.Fatalf("stored hash does not verify: %v", err)
	}
}

func TestRegisterLinksInviter(t *testing.T) {
	svc, db := newRegisterService(t)
	code := "AGENT001"
	agent := dbtest.SeedUser(t, db, dbtest.AsAgent(1), func(u *models.User) { u.InviteCode = &code })

	req := sampleRegisterRequest("invitee@example.com")
	req.InviteCode = " agent001 "
	dto, err := svc.Register(context.Background(), req)
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if dto.InviterID == nil || *dto.InviterID != agent.ID {
		t.Fatalf("expected inviter %s, got %v", agent.ID, dto.InviterID)
	}
}

func TestRegisterRejections(t *testing.T) {
	svc, db := newRegisterService(t)
	if _, err := svc.Register(context.Background(), sampleRegisterRequest("taken@example.com")); err != nil {
		t.Fatalf("seed registration: %v", err)
	}

	dup := sampleRegisterRequest("TAKEN@example.com")
	if _, err := svc.Register(context.Background(), dup); !pkgerrors.Is(err, pkgerrors.CodeConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	mismatch := sampleRegisterRequest("mismatch@example.com")
	mismatch.ConfirmPassword = "other"
	if _, err := svc.Register(context.Background(), mismatch); !pkgerrors.Is(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	unknown := sampleRegisterRequest("unknown-code@example.com")
	unknown.InviteCode = "ZZZZ9999"
	if _, err := svc.Register(context.Background(), unknown); !pkgerrors.Is(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for unknown code, got %v", err)
	}

	var count int64
	if err := db.Model(&models.User{}).Where("email = ?", "unknown-code@example.com").Count(&count).Error; err != nil {
		t.Fatalf("count users: %v", err)
	}
	if count != 0 {
		t.Fatalf("registration with unknown invite code must not persist the user")
	}
}

package users

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/skyportal/client/internal/model"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "users.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Account{}); err != nil {
		t.Fatalf("failed to migrate account schema: %v", err)
	}
	sequence := 0
	service, err := NewService(ServiceConfig{
		Database: db,
		Clock: func() time.Time {
			return time.Unix(1, 0)
		},
		NewToken: func() string {
			sequence++
			return fmt.Sprintf("token-%d", sequence)
		},
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service
}

func TestCreateAccountAndResolveToken(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	account, err := service.CreateAccount(ctx, AccountInput{
		Username:    "  alice ",
		DisplayName: "Alice",
		Permissions: []string{"Comment", model.PermissionSystemAdmin, "Comment", " "},
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if account.Username != "alice" || account.APIToken != "token-1" {
		t.Fatalf("unexpected account %+v", account)
	}

	resolved, err := service.ResolveToken(ctx, "token-1")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if resolved.ID != account.ID {
		t.Fatalf("expected account %d, got %d", account.ID, resolved.ID)
	}
	user := resolved.User()
	if len(user.Permissions) != 2 || !user.HasPermission(model.PermissionSystemAdmin) {
		t.Fatalf("unexpected permissions %v", user.Permissions)
	}

	if _, err := service.ResolveToken(ctx, "token-unknown"); !errors.Is(err, ErrUnknownToken) {
		t.Fatalf("expected unknown token error, got %v", err)
	}
}

func TestCreateAccountRejectsBlankUsername(t *testing.T) {
	service := newTestService(t)
	if _, err := service.CreateAccount(context.Background(), AccountInput{Username: " "}); !errors.Is(err, ErrInvalidAccount) {
		t.Fatalf("expected invalid account error, got %v", err)
	}
}

func TestResolveTokenReflectsUpdatedPermissionsAndPreferences(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()
	account, err := service.CreateAccount(ctx, AccountInput{Username: "bob"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	// warm the token cache before the update
	if _, err := service.ResolveToken(ctx, account.APIToken); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	if _, err := service.SetPermissions(ctx, account.ID, []string{model.PermissionSystemAdmin}); err != nil {
		t.Fatalf("set permissions failed: %v", err)
	}
	if _, err := service.UpdatePreferences(ctx, account.ID, model.Preferences{HideBotComments: true}); err != nil {
		t.Fatalf("update preferences failed: %v", err)
	}

	resolved, err := service.ResolveToken(ctx, account.APIToken)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	user := resolved.User()
	if !user.HasPermission(model.PermissionSystemAdmin) || !user.Preferences.HideBotComments {
		t.Fatalf("expected fresh profile, got %+v", user)
	}
}

func TestUpdatesOnMissingAccount(t *testing.T) {
	service := newTestService(t)
	if _, err := service.UpdatePreferences(context.Background(), 404, model.Preferences{}); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := service.Account(context.Background(), 404); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestBotAccountAuthorsBotComments(t *testing.T) {
	service := newTestService(t)
	account, err := service.CreateAccount(context.Background(), AccountInput{Username: "sentinel", IsBot: true})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if !account.Author().IsBot {
		t.Fatalf("expected bot author")
	}
}

package users

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/skyportal/client/internal/model"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	// ErrInvalidAccount indicates account input without a usable username.
	ErrInvalidAccount = errors.New("users: invalid account")
	// ErrUnknownToken indicates an API token that belongs to no account.
	ErrUnknownToken = errors.New("users: unknown api token")
	// ErrAccountNotFound indicates a lookup of an account id that does not exist.
	ErrAccountNotFound = errors.New("users: account not found")
)

// ServiceConfig describes the dependencies required for account management.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	// NewToken generates API tokens; defaults to random UUIDs.
	NewToken func() string
}

// AccountInput describes an account to create.
type AccountInput struct {
	Username        string
	DisplayName     string
	IsBot           bool
	Permissions     []string
	HideBotComments bool
}

// Service manages sandbox accounts and resolves their API tokens.
type Service struct {
	db       *gorm.DB
	now      func() time.Time
	newToken func() string
	// tokens maps API tokens to account ids.
	tokens sync.Map
}

// NewService constructs the account service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	newToken := cfg.NewToken
	if newToken == nil {
		newToken = uuid.NewString
	}
	return &Service{
		db:       cfg.Database,
		now:      clock,
		newToken: newToken,
	}, nil
}

// CreateAccount stores a new account with a freshly generated API token.
func (s *Service) CreateAccount(ctx context.Context, input AccountInput) (Account, error) {
	username := normalize(input.Username)
	if username == "" {
		return Account{}, ErrInvalidAccount
	}
	account := Account{
		Username:        username,
		DisplayName:     normalize(input.DisplayName),
		IsBot:           input.IsBot,
		Permissions:     joinPermissions(input.Permissions),
		HideBotComments: input.HideBotComments,
		APIToken:        s.newToken(),
		LastSeenAt:      s.now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&account).Error; err != nil {
		return Account{}, err
	}
	s.tokens.Store(account.APIToken, account.ID)
	return account, nil
}

// ResolveToken returns the account owning token and records the access.
func (s *Service) ResolveToken(ctx context.Context, token string) (Account, error) {
	token = normalize(token)
	if token == "" {
		return Account{}, ErrUnknownToken
	}

	if cached, ok := s.tokens.Load(token); ok {
		if accountID, ok := cached.(int64); ok {
			account, err := s.Account(ctx, accountID)
			if err == nil {
				s.touch(ctx, accountID)
				return account, nil
			}
			s.tokens.Delete(token)
		}
	}

	var account Account
	err := s.db.WithContext(ctx).Where("api_token = ?", token).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Account{}, ErrUnknownToken
	}
	if err != nil {
		return Account{}, err
	}
	s.tokens.Store(token, account.ID)
	s.touch(ctx, account.ID)
	return account, nil
}

// Account loads an account by id.
func (s *Service) Account(ctx context.Context, id int64) (Account, error) {
	var account Account
	err := s.db.WithContext(ctx).First(&account, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Account{}, ErrAccountNotFound
	}
	if err != nil {
		return Account{}, err
	}
	return account, nil
}

// UpdatePreferences persists the view preferences of an account.
func (s *Service) UpdatePreferences(ctx context.Context, id int64, preferences model.Preferences) (Account, error) {
	result := s.db.WithContext(ctx).Model(&Account{}).
		Where("id = ?", id).
		Update("hide_bot_comments", preferences.HideBotComments)
	if result.Error != nil {
		return Account{}, result.Error
	}
	if result.RowsAffected == 0 {
		return Account{}, ErrAccountNotFound
	}
	return s.Account(ctx, id)
}

// SetPermissions replaces the permissions of an account.
func (s *Service) SetPermissions(ctx context.Context, id int64, permissions []string) (Account, error) {
	result := s.db.WithContext(ctx).Model(&Account{}).
		Where("id = ?", id).
		Update("permissions", joinPermissions(permissions))
	if result.Error != nil {
		return Account{}, result.Error
	}
	if result.RowsAffected == 0 {
		return Account{}, ErrAccountNotFound
	}
	return s.Account(ctx, id)
}

func (s *Service) touch(ctx context.Context, id int64) {
	_ = s.db.WithContext(ctx).Model(&Account{}).
		Where("id = ?", id).
		Update("last_seen_at", s.now().UTC()).
		Error
}

package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/MarcoPoloResearchLab/skyportal/client/internal/dispatch"
	"github.com/MarcoPoloResearchLab/skyportal/client/internal/model"
	"go.uber.org/zap"
)

// ProfileSource reads the profile of the authenticated account.
type ProfileSource interface {
	Profile(ctx context.Context) (model.User, error)
}

// Session holds the profile of the account the client acts as. Comment
// views read it on every render, so permission changes apply immediately.
type Session struct {
	profiles ProfileSource
	logger   *zap.Logger

	mu   sync.RWMutex
	user model.User
}

func newSession(profiles ProfileSource, logger *zap.Logger) *Session {
	return &Session{profiles: profiles, logger: logger}
}

// Current implements comments.Viewer.
func (s *Session) Current() model.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// Refresh rereads the profile. The previous profile is kept on failure.
func (s *Session) Refresh(ctx context.Context) error {
	user, err := s.profiles.Profile(ctx)
	if err != nil {
		s.logger.Warn("profile refresh failed", zap.Error(err))
		return fmt.Errorf("app: refresh profile: %w", err)
	}
	s.mu.Lock()
	s.user = user
	s.mu.Unlock()
	s.logger.Debug("profile refreshed", zap.String("username", user.Username))
	return nil
}

func (s *Session) handler() dispatch.Handler {
	return dispatch.HandlerFunc(func(_ context.Context, notification dispatch.Notification, effects dispatch.Effects, _ dispatch.State) error {
		if notification.ActionType != dispatch.ActionFetchUserProfile {
			return nil
		}
		effects.Go("session.refresh", s.Refresh)
		return nil
	})
}

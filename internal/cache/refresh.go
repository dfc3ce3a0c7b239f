package cache

import (
	"context"

	"github.com/MarcoPoloResearchLab/skyportal/client/internal/dispatch"
)

// RefreshRule binds a cache to the push action that announces changes to it.
type RefreshRule struct {
	ActionType string
	// IdentityField is the payload key carrying the identity filter. An
	// empty field treats every matching notification as collection-level.
	IdentityField string
}

// RefreshHandler returns the identity-match refresh handler for c.
//
// A notification without an identity re-issues the last completed read with
// the same parameters (query for collections, identity for single
// resources). A notification with an identity refetches only when it equals
// the loaded identity, so changes to resources nobody is viewing cost nothing.
func RefreshHandler[T any](c *Cache[T], rule RefreshRule) dispatch.Handler {
	return dispatch.HandlerFunc(func(ctx context.Context, notification dispatch.Notification, effects dispatch.Effects, state dispatch.State) error {
		if notification.ActionType != rule.ActionType {
			return nil
		}

		var (
			id      string
			present bool
		)
		if rule.IdentityField != "" {
			id, present = notification.Payload.Identity(rule.IdentityField)
		}

		if !present {
			if query, ok := state.LastQuery(c.Name()); ok {
				effects.Go(c.Name()+".refetch_collection", func(ctx context.Context) error {
					_, err := c.FetchCollection(ctx, query)
					return err
				})
				return nil
			}
			if loaded, ok := state.LoadedIdentity(c.Name()); ok {
				effects.Go(c.Name()+".refetch_one", func(ctx context.Context) error {
					_, err := c.FetchOne(ctx, loaded)
					return err
				})
			}
			return nil
		}

		loaded, ok := state.LoadedIdentity(c.Name())
		if !ok || loaded.ID != id {
			return nil
		}
		effects.Go(c.Name()+".refetch_one", func(ctx context.Context) error {
			_, err := c.FetchOne(ctx, loaded)
			return err
		})
		return nil
	})
}

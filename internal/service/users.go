package service

import (
	"context"

	"github.com/and161185/taskflow/internal/cache"
	"github.com/and161185/taskflow/internal/model"
)

// Users provides cached reads over /api/users.
type Users struct {
	api   Doer
	cache *cache.Cache
}

// NewUsers constructs the user service.
func NewUsers(api Doer, c *cache.Cache) *Users {
	return &Users{api: api, cache: c}
}

// List returns all active users, served from cache when fresh.
func (u *Users) List(ctx context.Context) ([]model.User, error) {
	return cache.Get(ctx, u.cache, KeyUsers, func(ctx context.Context) ([]model.User, error) {
		var users []model.User
		err := u.api.GetJSON(ctx, "/api/users", nil, &users)
		return users, err
	})
}

// Health reports the API liveness endpoint; never cached.
func Health(ctx context.Context, api Doer) (map[string]string, error) {
	var out map[string]string
	err := api.GetJSON(ctx, "/api/health", nil, &out)
	return out, err
}

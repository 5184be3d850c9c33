// Package auth gates who may use the bot: the configured admin always, and
// any member of a chat that currently holds an access grant.
package auth

import (
	"context"

	"github.com/zxeenu/heavy-telegram-bot/internal/cache"
)

// Authenticator answers admin and chat-membership questions.
type Authenticator struct {
	adminUserID int64
	store       *cache.Store
}

// New creates an authenticator for the configured admin user.
func New(adminUserID int64, store *cache.Store) *Authenticator {
	return &Authenticator{
		adminUserID: adminUserID,
		store:       store,
	}
}

// IsAdmin reports whether the user is the configured admin.
func (a *Authenticator) IsAdmin(userID int64) bool {
	return a.adminUserID == userID
}

// IsAllowed reports whether the user may use the bot in the chat: admins
// always, everyone else only while the chat holds an access grant.
func (a *Authenticator) IsAllowed(ctx context.Context, userID, chatID int64) (bool, error) {
	if a.IsAdmin(userID) {
		return true, nil
	}
	return a.store.ChatGranted(ctx, chatID)
}

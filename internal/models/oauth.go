// Package models defines types shared across internal packages.
package models

import (
	"log/slog"
	"time"
)

// Athlete is the provider profile returned alongside a code exchange.
// Refresh grants do not carry it, so ID is zero on refreshed sets.
type Athlete struct {
	ID        int64  `json:"id"`
	FirstName string `json:"firstname,omitempty"`
	LastName  string `json:"lastname,omitempty"`
	Username  string `json:"username,omitempty"`
}

// TokenSet is the result of a token grant. It holds live bearer
// credentials and must never be logged.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    int64 // unix seconds
	Athlete      Athlete
}

// Expiry returns ExpiresAt as a time.
func (t TokenSet) Expiry() time.Time {
	return time.Unix(t.ExpiresAt, 0)
}

// LogValue implements slog.LogValuer so a TokenSet passed to a logger
// by mistake prints only non-secret fields.
func (t TokenSet) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int64("athlete_id", t.Athlete.ID),
		slog.Int64("expires_at", t.ExpiresAt),
		slog.Bool("has_refresh_token", t.RefreshToken != ""),
	)
}

// AuthorizationRequest is the ephemeral first leg of the relay flow.
type AuthorizationRequest struct {
	ReturnTarget string
	CallbackURI  string
}

package relay

import (
	"context"

	"github.com/maxdhml/pulse-coach-backend/internal/models"
)

//go:generate mockgen -source=exchanger.go -destination=mock_exchanger_test.go -package=relay
//go:generate mockgen -destination=mock_store_test.go -package=relay github.com/maxdhml/pulse-coach-backend/internal/store AccountStore

// Exchanger is the provider side of the relay. *strava.Client
// implements it.
type Exchanger interface {
	AuthCodeURL(clientID, redirectURI, scope, state string, extra map[string]string) string
	ExchangeCode(ctx context.Context, clientID, clientSecret, code string) (models.TokenSet, error)
	RefreshAccessToken(ctx context.Context, clientID, clientSecret, refreshToken string) (models.TokenSet, error)
	ListActivities(ctx context.Context, accessToken string, page, perPage int) ([]models.Activity, error)
}

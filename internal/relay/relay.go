// Package relay runs the two legs of the authorization code flow:
// building the provider URL with the caller's return target carried in
// state, and turning the provider callback into a persisted account and
// a delivery instruction. It also refreshes stored tokens and lists
// activities for the CLI.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maxdhml/pulse-coach-backend/internal/config"
	"github.com/maxdhml/pulse-coach-backend/internal/delivery"
	apperrors "github.com/maxdhml/pulse-coach-backend/internal/errors"
	"github.com/maxdhml/pulse-coach-backend/internal/metrics"
	"github.com/maxdhml/pulse-coach-backend/internal/models"
	"github.com/maxdhml/pulse-coach-backend/internal/store"
	"github.com/maxdhml/pulse-coach-backend/internal/strava"
)

// CallbackPath is where the provider sends the browser back to.
const CallbackPath = "/auth/strava/callback"

// Phase is a step of one authorization flow. Phases are only used for
// logs and metrics; nothing is kept between requests.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAwaitingProviderCallback
	PhaseExchanging
	PhaseDelivering
	PhaseDone
	PhaseError
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAwaitingProviderCallback:
		return "awaiting_provider_callback"
	case PhaseExchanging:
		return "exchanging"
	case PhaseDelivering:
		return "delivering"
	case PhaseDone:
		return "done"
	case PhaseError:
		return "error"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Settings is the relay's slice of the configuration.
type Settings struct {
	ClientID       string
	ClientSecret   string
	Scope          string
	ApprovalPrompt string

	// PublicBaseURL, when set, replaces the origin derived from the
	// request when building the callback URI.
	PublicBaseURL         string
	TrustForwardedHeaders bool

	DefaultReturnTarget  string
	AllowedReturnSchemes []string

	// RefreshSkew is how close to expiry a stored token may get before
	// Activities refreshes it first.
	RefreshSkew time.Duration
}

// SettingsFromConfig copies the relevant fields out of cfg.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		ClientID:              cfg.StravaClientID,
		ClientSecret:          cfg.StravaClientSecret,
		Scope:                 cfg.StravaScope,
		ApprovalPrompt:        cfg.StravaApprovalPrompt,
		PublicBaseURL:         cfg.PublicBaseURL,
		TrustForwardedHeaders: cfg.TrustForwardedHeaders,
		DefaultReturnTarget:   cfg.DefaultReturnTarget,
		AllowedReturnSchemes:  cfg.AllowedReturnSchemes,
		RefreshSkew:           cfg.TokenRefreshSkew,
	}
}

// CallbackParams are the query parameters of the provider callback.
type CallbackParams struct {
	Code  string
	State string
	// Error is set by the provider when the user denied access.
	Error string
}

// Relay orchestrates the flow. It holds no per-flow state and is safe
// for concurrent use.
type Relay struct {
	settings  Settings
	exchanger Exchanger
	accounts  store.AccountStore
	resolver  *delivery.Resolver
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a Relay. m may be nil.
func New(settings Settings, exchanger Exchanger, accounts store.AccountStore, resolver *delivery.Resolver, m *metrics.Metrics, logger *slog.Logger) *Relay {
	if resolver == nil {
		resolver = delivery.NewResolver(delivery.DefaultTable())
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Relay{
		settings:  settings,
		exchanger: exchanger,
		accounts:  accounts,
		resolver:  resolver,
		metrics:   m,
		logger:    logger.With(slog.String("component", "relay")),
		now:       time.Now,
	}
}

// CallbackURI is the absolute redirect_uri registered with the provider
// for this request.
func (r *Relay) CallbackURI(rc RequestContext) string {
	if r.settings.PublicBaseURL != "" {
		return r.settings.PublicBaseURL + CallbackPath
	}

	return rc.Origin(r.settings.TrustForwardedHeaders) + CallbackPath
}

func (r *Relay) hasCredentials() bool {
	return r.settings.ClientID != "" && r.settings.ClientSecret != ""
}

// returnTarget applies the default and validates the result. An empty
// result is valid and means JSON delivery.
func (r *Relay) returnTarget(raw string) (string, error) {
	target := raw
	if target == "" {
		target = r.settings.DefaultReturnTarget
	}

	if target == "" {
		return "", nil
	}

	if err := ValidateReturnTarget(target, r.settings.AllowedReturnSchemes); err != nil {
		return "", err
	}

	return target, nil
}

// fail records a flow that stopped at phase with err and returns err.
func (r *Relay) fail(phase Phase, err error) error {
	r.metrics.Flow(phase.String(), metrics.OutcomeError)
	return err
}

// BeginAuthorization returns the provider authorization URL. The return
// target travels in state unchanged.
func (r *Relay) BeginAuthorization(returnTarget string, rc RequestContext) (string, error) {
	if r.settings.ClientID == "" {
		r.logger.Error("authorization requested without a configured client id")
		return "", r.fail(PhaseIdle, apperrors.ErrConfiguration)
	}

	target, err := r.returnTarget(returnTarget)
	if err != nil {
		r.logger.Warn("rejected return target", slog.String("error", err.Error()))
		return "", r.fail(PhaseIdle, err)
	}

	var extra map[string]string
	if r.settings.ApprovalPrompt != "" {
		extra = map[string]string{"approval_prompt": r.settings.ApprovalPrompt}
	}

	callback := r.CallbackURI(rc)
	authURL := r.exchanger.AuthCodeURL(r.settings.ClientID, callback, r.settings.Scope, target, extra)

	r.logger.Debug("authorization started",
		slog.String("phase", PhaseAwaitingProviderCallback.String()),
		slog.String("callback", callback),
		slog.Bool("has_return_target", target != ""),
	)
	r.metrics.Flow(PhaseAwaitingProviderCallback.String(), metrics.OutcomeOK)

	return authURL, nil
}

// HandleCallback validates the callback, exchanges the code, upserts the
// account and resolves delivery. Nothing is persisted unless the
// exchange succeeds, and nothing is delivered unless the upsert does.
func (r *Relay) HandleCallback(ctx context.Context, p CallbackParams, rc RequestContext) (delivery.Instruction, error) {
	if p.Code == "" {
		if p.Error != "" {
			r.logger.Warn("provider returned an error instead of a code", slog.String("provider_error", p.Error))
		}

		return delivery.Instruction{}, r.fail(PhaseAwaitingProviderCallback, apperrors.ErrMissingCode)
	}

	if !r.hasCredentials() {
		r.logger.Error("callback received without configured client credentials")
		return delivery.Instruction{}, r.fail(PhaseAwaitingProviderCallback, apperrors.ErrConfiguration)
	}

	target, err := r.returnTarget(p.State)
	if err != nil {
		r.logger.Warn("rejected return target on callback", slog.String("error", err.Error()))
		return delivery.Instruction{}, r.fail(PhaseAwaitingProviderCallback, err)
	}

	ts, err := r.exchange(ctx, p.Code)
	if err != nil {
		return delivery.Instruction{}, r.fail(PhaseExchanging, err)
	}

	acct, err := r.accounts.Upsert(ctx, models.AccountFromTokens(ts.Athlete.ID, ts))
	if err != nil {
		r.logger.Error("persisting account failed",
			slog.Int64("athlete_id", ts.Athlete.ID),
			slog.String("error", err.Error()),
		)

		return delivery.Instruction{}, r.fail(PhaseExchanging, fmt.Errorf("persisting account: %w", err))
	}

	instr := r.resolver.Resolve(target, ts.AccessToken, rc.UserAgent)

	r.metrics.Delivery(instr.Kind.String())
	r.metrics.Flow(PhaseDone.String(), metrics.OutcomeOK)
	r.logger.Info("authorization complete",
		slog.Int64("athlete_id", acct.AthleteID),
		slog.String("delivery", instr.Kind.String()),
		slog.Bool("new_account", acct.CreatedAt.Equal(acct.UpdatedAt)),
	)

	return instr, nil
}

// exchange runs the code grant and normalizes its failure onto the
// ExchangeFailed / UpstreamUnavailable pair.
func (r *Relay) exchange(ctx context.Context, code string) (models.TokenSet, error) {
	start := r.now()
	ts, err := r.exchanger.ExchangeCode(ctx, r.settings.ClientID, r.settings.ClientSecret, code)
	r.metrics.ProviderCall(strava.OpExchange, err, r.now().Sub(start))

	if err != nil {
		err = classify(err)
		r.logProviderError("code exchange failed", err)

		return models.TokenSet{}, err
	}

	if ts.AccessToken == "" || ts.Athlete.ID == 0 {
		err := fmt.Errorf("%w: incomplete token response", apperrors.ErrExchangeFailed)
		r.logger.Error("code exchange failed", slog.String("error", err.Error()))

		return models.TokenSet{}, err
	}

	return ts, nil
}

// classify keeps provider errors that already carry a kind and turns
// anything else into ErrExchangeFailed.
func classify(err error) error {
	if errors.Is(err, apperrors.ErrUpstreamUnavailable) || errors.Is(err, apperrors.ErrExchangeFailed) {
		return err
	}

	return fmt.Errorf("%w: %w", apperrors.ErrExchangeFailed, err)
}

// logProviderError logs err with the provider's own message and code
// when available. Raw bodies stay at debug level.
func (r *Relay) logProviderError(msg string, err error) {
	attrs := []any{slog.String("error", err.Error())}

	var se *strava.Error
	if errors.As(err, &se) {
		attrs = append(attrs,
			slog.String("op", se.Op),
			slog.Int("status", se.Status),
			slog.String("provider_code", se.ProviderCode()),
		)
		r.logger.Debug("provider response body", slog.String("op", se.Op), slog.String("body", se.Body))
	}

	r.logger.Error(msg, attrs...)
}

// RefreshAccount runs the refresh grant for a stored account and
// persists the new credentials.
func (r *Relay) RefreshAccount(ctx context.Context, athleteID int64) (models.Account, error) {
	if !r.hasCredentials() {
		return models.Account{}, apperrors.ErrConfiguration
	}

	acct, err := r.accounts.Get(ctx, athleteID)
	if err != nil {
		return models.Account{}, err
	}

	return r.refresh(ctx, acct)
}

func (r *Relay) refresh(ctx context.Context, acct models.Account) (models.Account, error) {
	start := r.now()
	ts, err := r.exchanger.RefreshAccessToken(ctx, r.settings.ClientID, r.settings.ClientSecret, acct.RefreshToken)
	r.metrics.ProviderCall(strava.OpRefresh, err, r.now().Sub(start))

	if err != nil {
		err = classify(err)
		r.logProviderError("token refresh failed", err)

		return models.Account{}, err
	}

	if ts.RefreshToken == "" {
		ts.RefreshToken = acct.RefreshToken
	}

	updated, err := r.accounts.Upsert(ctx, models.AccountFromTokens(acct.AthleteID, ts))
	if err != nil {
		return models.Account{}, fmt.Errorf("persisting refreshed account: %w", err)
	}

	r.logger.Info("token refreshed",
		slog.Int64("athlete_id", updated.AthleteID),
		slog.Int64("expires_at", updated.ExpiresAt),
	)

	return updated, nil
}

// Activities returns one page of the athlete's activities, refreshing
// the stored token first when it is about to expire.
func (r *Relay) Activities(ctx context.Context, athleteID int64, page, perPage int) ([]models.Activity, error) {
	acct, err := r.accounts.Get(ctx, athleteID)
	if err != nil {
		return nil, err
	}

	if acct.Expired(r.now(), r.settings.RefreshSkew) {
		if !r.hasCredentials() {
			return nil, apperrors.ErrConfiguration
		}

		r.logger.Debug("stored token near expiry, refreshing", slog.Int64("athlete_id", athleteID))

		if acct, err = r.refresh(ctx, acct); err != nil {
			return nil, err
		}
	}

	start := r.now()
	activities, err := r.exchanger.ListActivities(ctx, acct.AccessToken, page, perPage)
	r.metrics.ProviderCall(strava.OpActivities, err, r.now().Sub(start))

	if err != nil {
		r.logProviderError("listing activities failed", err)
		return nil, err
	}

	return activities, nil
}

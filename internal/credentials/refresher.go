// Package credentials renews the OAuth tokens of connected accounts.
//
// The Refresher is used in two ways: on demand by the engine when a
// capability call finds an expired token, and periodically by the scheduler
// process for tokens that are about to expire. After a successful refresh it
// can resume the hook jobs that were paused because the token had expired.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"gorm.io/gorm"

	"github.com/tbourn/go-area-backend/internal/config"
	"github.com/tbourn/go-area-backend/internal/domain"
	"github.com/tbourn/go-area-backend/internal/repo"
)

var (
	// ErrNoClient is returned when no OAuth client is configured for the
	// account's service.
	ErrNoClient = errors.New("no oauth client for service")
	// ErrNoRefreshToken is returned for accounts that cannot be refreshed.
	ErrNoRefreshToken = errors.New("no refresh token")
)

// Refresher exchanges refresh tokens at the service's token endpoint.
type Refresher struct {
	DB         *gorm.DB
	Clients    map[string]config.OAuthClient // keyed by service name
	AutoResume bool
	HTTPClient *http.Client // optional, for the token endpoint
	Log        zerolog.Logger
	Now        func() time.Time
}

// New builds a Refresher from the application configuration.
func New(db *gorm.DB, cfg config.Config, log zerolog.Logger) *Refresher {
	return &Refresher{
		DB:         db,
		Clients:    cfg.OAuth,
		AutoResume: cfg.AutoResume,
		Log:        log,
	}
}

// Refresh renews the tokens of us, stores them, and returns the updated
// account. us.Service must be loaded.
func (r *Refresher) Refresh(ctx context.Context, us *domain.UserService) (*domain.UserService, error) {
	if us.RefreshToken == "" {
		return nil, ErrNoRefreshToken
	}
	client, ok := r.Clients[us.Service.Name]
	if !ok || client.TokenURL == "" {
		return nil, fmt.Errorf("%w %q", ErrNoClient, us.Service.Name)
	}

	oc := &oauth2.Config{
		ClientID:     client.ClientID,
		ClientSecret: client.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: client.TokenURL},
	}
	if r.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, r.HTTPClient)
	}
	// An empty access token forces the exchange.
	tok, err := oc.TokenSource(ctx, &oauth2.Token{RefreshToken: us.RefreshToken}).Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.ErrorCode != "" {
			return nil, fmt.Errorf("refresh %s: %s", us.Service.Name, re.ErrorCode)
		}
		return nil, fmt.Errorf("refresh %s: %w", us.Service.Name, err)
	}

	var expires *time.Time
	if !tok.Expiry.IsZero() {
		e := tok.Expiry.UTC()
		expires = &e
	}
	if err := repo.UpdateUserServiceTokens(ctx, r.DB, us.ID, tok.AccessToken, tok.RefreshToken, expires); err != nil {
		return nil, fmt.Errorf("store tokens: %w", err)
	}

	log := r.Log.With().Str("user_service_id", us.ID).Str("service", us.Service.Name).Logger()
	log.Info().Msg("credentials refreshed")
	if r.AutoResume {
		n, err := repo.ResumeTokenPausedJobs(ctx, r.DB, us.ID)
		if err != nil {
			log.Error().Err(err).Msg("resume paused hook jobs")
		} else if n > 0 {
			log.Info().Int64("resumed", n).Msg("hook jobs resumed after refresh")
		}
	}
	return repo.GetUserService(ctx, r.DB, us.ID)
}

// RefreshExpiring refreshes every account whose token expires within the
// given window. Individual failures are logged; the count of refreshed
// accounts is returned.
func (r *Refresher) RefreshExpiring(ctx context.Context, within time.Duration) (int, error) {
	accounts, err := repo.ListExpiringUserServices(ctx, r.DB, r.now().Add(within))
	if err != nil {
		return 0, err
	}
	done := 0
	for i := range accounts {
		if _, err := r.Refresh(ctx, &accounts[i]); err != nil {
			r.Log.Warn().Err(err).Str("user_service_id", accounts[i].ID).Msg("refresh failed")
			continue
		}
		done++
	}
	return done, nil
}

// Run calls RefreshExpiring every interval until ctx is cancelled.
func (r *Refresher) Run(ctx context.Context, every, within time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := r.RefreshExpiring(ctx, within); err != nil && ctx.Err() == nil {
				r.Log.Error().Err(err).Msg("refresh expiring credentials")
			}
		}
	}
}

func (r *Refresher) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

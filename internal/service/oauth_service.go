package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/medico24/medico24-auth/internal/domain"
	"github.com/medico24/medico24-auth/internal/observability"
	"github.com/medico24/medico24-auth/internal/repository"
)

var (
	ErrEmailNotVerified = errors.New("google email not verified")
	// ErrEmailConflict: the provider email matches an existing local identity
	// and auto-linking is disabled.
	ErrEmailConflict = errors.New("provider email belongs to an existing identity")
)

type OAuthUserInfo struct {
	ProviderUserID string `json:"sub"`
	Email          string `json:"email"`
	Name           string `json:"name"`
	Picture        string `json:"picture"`
	EmailVerified  bool   `json:"email_verified"`
}

// OAuthProvider is the closed variant set of federated providers. Each
// implementation carries the identical exchange contract.
type OAuthProvider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	FetchUserInfo(ctx context.Context, token *oauth2.Token) (*OAuthUserInfo, error)
}

const googleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"

type GoogleProvider struct {
	cfg         *oauth2.Config
	userInfoURL string
}

func NewGoogleProvider(clientID, clientSecret, redirectURL string) *GoogleProvider {
	return &GoogleProvider{
		cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     google.Endpoint,
		},
		userInfoURL: googleUserInfoURL,
	}
}

func (p *GoogleProvider) AuthCodeURL(state string) string {
	return p.cfg.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

func (p *GoogleProvider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	return p.cfg.Exchange(ctx, code)
}

func (p *GoogleProvider) FetchUserInfo(ctx context.Context, token *oauth2.Token) (*OAuthUserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.cfg.Client(ctx, token).Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo status: %d", resp.StatusCode)
	}
	var info OAuthUserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, err
	}
	if info.ProviderUserID == "" || info.Email == "" {
		return nil, errors.New("missing required userinfo fields")
	}
	return &info, nil
}

// OAuthService turns an authorization code into a bound local identity.
// States: code received -> exchanging -> verified (or failed). A failure at
// any point leaves no identity or binding behind.
type OAuthService struct {
	provider        OAuthProvider
	identities      repository.IdentityRepository
	autoLinkEmail   bool
	exchangeTimeout time.Duration
}

func NewOAuthService(provider OAuthProvider, identities repository.IdentityRepository, autoLinkEmail bool, exchangeTimeout time.Duration) *OAuthService {
	if exchangeTimeout <= 0 {
		exchangeTimeout = 10 * time.Second
	}
	return &OAuthService{
		provider:        provider,
		identities:      identities,
		autoLinkEmail:   autoLinkEmail,
		exchangeTimeout: exchangeTimeout,
	}
}

func (s *OAuthService) GoogleLoginURL(state string) string {
	return s.provider.AuthCodeURL(state)
}

// HandleGoogleCallback runs the full exchange with a request-scoped timeout
// and binds the verified subject to a local identity.
func (s *OAuthService) HandleGoogleCallback(ctx context.Context, code string) (*domain.Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, s.exchangeTimeout)
	defer cancel()

	token, err := s.provider.Exchange(ctx, code)
	if err != nil {
		observability.RecordOAuthExchange(ctx, domain.ProviderGoogle, "failure", classifyOAuthError(err))
		return nil, err
	}
	info, err := s.provider.FetchUserInfo(ctx, token)
	if err != nil {
		observability.RecordOAuthExchange(ctx, domain.ProviderGoogle, "failure", classifyOAuthError(err))
		return nil, err
	}
	if !info.EmailVerified {
		observability.RecordOAuthExchange(ctx, domain.ProviderGoogle, "failure", "email_not_verified")
		return nil, ErrEmailNotVerified
	}

	identity, err := s.bind(info)
	if err != nil {
		observability.RecordOAuthExchange(ctx, domain.ProviderGoogle, "failure", classifyOAuthError(err))
		return nil, err
	}
	observability.RecordOAuthExchange(ctx, domain.ProviderGoogle, "success", "none")
	return identity, nil
}

func (s *OAuthService) bind(info *OAuthUserInfo) (*domain.Identity, error) {
	identity, err := s.identities.FindByProviderSubject(domain.ProviderGoogle, info.ProviderUserID)
	if err == nil {
		return identity, nil
	}
	if !errors.Is(err, repository.ErrIdentityNotFound) {
		return nil, err
	}

	existing, err := s.identities.FindByEmail(info.Email)
	switch {
	case err == nil:
		if !s.autoLinkEmail {
			return nil, ErrEmailConflict
		}
		link := &domain.FederatedIdentity{
			Provider: domain.ProviderGoogle,
			Subject:  info.ProviderUserID,
			Email:    info.Email,
		}
		if err := s.identities.LinkProvider(existing.ID, link); err != nil {
			return nil, err
		}
		return s.identities.FindByID(existing.ID)
	case errors.Is(err, repository.ErrIdentityNotFound):
		identity := &domain.Identity{
			Email:      info.Email,
			Name:       info.Name,
			PictureURL: info.Picture,
			Status:     domain.IdentityStatusActive,
		}
		link := &domain.FederatedIdentity{
			Provider: domain.ProviderGoogle,
			Subject:  info.ProviderUserID,
			Email:    info.Email,
		}
		if err := s.identities.CreateWithProvider(identity, link); err != nil {
			return nil, err
		}
		return identity, nil
	default:
		return nil, err
	}
}

func classifyOAuthError(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, context.Canceled):
		return "context_canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrEmailConflict):
		return "email_conflict"
	case errors.Is(err, ErrEmailNotVerified):
		return "email_not_verified"
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "userinfo status:"):
		return "userinfo_status"
	case strings.Contains(msg, "missing required userinfo fields"):
		return "invalid_userinfo"
	case strings.Contains(msg, "oauth2:"):
		return "oauth2_exchange"
	default:
		return "other"
	}
}

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"golang.org/x/oauth2"

	"github.com/counselhub/counselhub/internal/shared"
	"github.com/counselhub/counselhub/internal/users"
)

// Supported social providers.
const (
	ProviderGoogle = "google"
	ProviderKakao  = "kakao"
	ProviderNaver  = "naver"
)

const (
	oauthStateTTL = 10 * time.Minute
	oauthLinkTTL  = 30 * time.Minute
)

// Identity is the normalized profile returned by a provider.
type Identity struct {
	Provider      string
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
}

// ProviderConfig carries client credentials of one provider.
type ProviderConfig struct {
	Name         string
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// Provider is an OAuth2 authorization-code provider.
type Provider struct {
	Name        string
	Config      *oauth2.Config
	UserInfoURL string
	parse       func([]byte) (Identity, error)
}

// NewProvider builds a provider from credentials. Unknown names fail.
func NewProvider(cfg ProviderConfig) (*Provider, error) {
	p := &Provider{Name: cfg.Name}
	conf := &oauth2.Config{ClientID: cfg.ClientID, ClientSecret: cfg.ClientSecret, RedirectURL: cfg.RedirectURL}
	switch cfg.Name {
	case ProviderGoogle:
		conf.Endpoint = oauth2.Endpoint{
			AuthURL:  "https://accounts.google.com/o/oauth2/auth",
			TokenURL: "https://oauth2.googleapis.com/token",
		}
		conf.Scopes = []string{"openid", "email", "profile"}
		p.UserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"
		p.parse = parseGoogle
	case ProviderKakao:
		conf.Endpoint = oauth2.Endpoint{
			AuthURL:   "https://kauth.kakao.com/oauth/authorize",
			TokenURL:  "https://kauth.kakao.com/oauth/token",
			AuthStyle: oauth2.AuthStyleInParams,
		}
		conf.Scopes = []string{"account_email", "profile_nickname"}
		p.UserInfoURL = "https://kapi.kakao.com/v2/user/me"
		p.parse = parseKakao
	case ProviderNaver:
		conf.Endpoint = oauth2.Endpoint{
			AuthURL:   "https://nid.naver.com/oauth2.0/authorize",
			TokenURL:  "https://nid.naver.com/oauth2.0/token",
			AuthStyle: oauth2.AuthStyleInParams,
		}
		p.UserInfoURL = "https://openapi.naver.com/v1/nid/me"
		p.parse = parseNaver
	default:
		return nil, fmt.Errorf("unknown oauth provider %q", cfg.Name)
	}
	p.Config = conf
	return p, nil
}

func parseGoogle(body []byte) (Identity, error) {
	var v struct {
		Sub           string `json:"sub"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
	}
	if err := json.Unmarshal(body, &v); err != nil {
		return Identity{}, err
	}
	return Identity{Provider: ProviderGoogle, Subject: v.Sub, Email: v.Email, EmailVerified: v.EmailVerified, Name: v.Name}, nil
}

func parseKakao(body []byte) (Identity, error) {
	var v struct {
		ID      int64 `json:"id"`
		Account struct {
			Email           string `json:"email"`
			IsEmailVerified bool   `json:"is_email_verified"`
			IsEmailValid    bool   `json:"is_email_valid"`
			Profile         struct {
				Nickname string `json:"nickname"`
			} `json:"profile"`
		} `json:"kakao_account"`
	}
	if err := json.Unmarshal(body, &v); err != nil {
		return Identity{}, err
	}
	return Identity{
		Provider:      ProviderKakao,
		Subject:       strconv.FormatInt(v.ID, 10),
		Email:         v.Account.Email,
		EmailVerified: v.Account.IsEmailVerified && v.Account.IsEmailValid,
		Name:          v.Account.Profile.Nickname,
	}, nil
}

func parseNaver(body []byte) (Identity, error) {
	var v struct {
		ResultCode string `json:"resultcode"`
		Response   struct {
			ID    string `json:"id"`
			Email string `json:"email"`
			Name  string `json:"name"`
		} `json:"response"`
	}
	if err := json.Unmarshal(body, &v); err != nil {
		return Identity{}, err
	}
	if v.ResultCode != "00" {
		return Identity{}, fmt.Errorf("naver profile: result code %s", v.ResultCode)
	}
	// Naver only returns e-mails the account owner confirmed.
	return Identity{Provider: ProviderNaver, Subject: v.Response.ID, Email: v.Response.Email, EmailVerified: v.Response.Email != "", Name: v.Response.Name}, nil
}

// fetchIdentity calls the profile endpoint, retrying transient failures.
func (p *Provider) fetchIdentity(ctx context.Context, token *oauth2.Token) (Identity, error) {
	client := p.Config.Client(ctx, token)
	var body []byte
	err := retry.Do(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.UserInfoURL, nil)
		if err != nil {
			return retry.Unrecoverable(err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return err
		}
		switch {
		case resp.StatusCode >= 500:
			return fmt.Errorf("%s profile: status %d", p.Name, resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			return retry.Unrecoverable(fmt.Errorf("%s profile: status %d", p.Name, resp.StatusCode))
		}
		body = data
		return nil
	}, retry.Context(ctx), retry.Attempts(3), retry.Delay(200*time.Millisecond), retry.LastErrorOnly(true))
	if err != nil {
		return Identity{}, err
	}
	id, err := p.parse(body)
	if err != nil {
		return Identity{}, err
	}
	if id.Subject == "" {
		return Identity{}, fmt.Errorf("%s profile: empty subject", p.Name)
	}
	id.Email = strings.ToLower(strings.TrimSpace(id.Email))
	return id, nil
}

// OAuthResult is the outcome of a callback. Exactly one of User or LinkToken is set.
type OAuthResult struct {
	User      *users.User
	LinkToken string
	Identity  Identity
}

func (s *Service) provider(name string) (*Provider, error) {
	p, ok := s.providers[name]
	if !ok {
		return nil, ErrProviderUnavailable
	}
	return p, nil
}

// RegisterProvider enables a social provider.
func (s *Service) RegisterProvider(p *Provider) {
	if s.providers == nil {
		s.providers = make(map[string]*Provider)
	}
	s.providers[p.Name] = p
}

// OAuthStart returns the provider consent URL. nonce must also be kept in the session.
func (s *Service) OAuthStart(name, nonce string) (string, error) {
	p, err := s.provider(name)
	if err != nil {
		return "", err
	}
	state, err := s.Tokens.Issue(purposeOAuthState, nonce, oauthStateTTL, map[string]string{"provider": name})
	if err != nil {
		return "", err
	}
	return p.Config.AuthCodeURL(state), nil
}

// OAuthCallback exchanges the code and resolves the local account.
func (s *Service) OAuthCallback(ctx context.Context, name, code, state, nonce string) (OAuthResult, error) {
	p, err := s.provider(name)
	if err != nil {
		return OAuthResult{}, err
	}
	claims, err := s.Tokens.Parse(state, purposeOAuthState)
	if err != nil || nonce == "" || claims.Subject != nonce || claims.Data["provider"] != name {
		return OAuthResult{}, ErrOAuthState
	}
	token, err := p.Config.Exchange(ctx, code)
	if err != nil {
		s.Events.RecordAuth(MethodOAuth, "failure")
		return OAuthResult{}, fmt.Errorf("oauth exchange: %w", err)
	}
	ident, err := p.fetchIdentity(ctx, token)
	if err != nil {
		s.Events.RecordAuth(MethodOAuth, "failure")
		return OAuthResult{}, fmt.Errorf("oauth profile: %w", err)
	}
	user, err := s.resolveIdentity(ctx, ident)
	if err != nil {
		return OAuthResult{}, err
	}
	if user != nil {
		if !user.IsActive {
			return OAuthResult{}, ErrInactiveAccount
		}
		s.Events.RecordAuth(MethodOAuth, "success")
		return OAuthResult{User: user, Identity: ident}, nil
	}
	link, err := s.Tokens.Issue(purposeOAuthLink, ident.Subject, oauthLinkTTL, map[string]string{
		"provider": ident.Provider,
		"email":    ident.Email,
		"name":     ident.Name,
	})
	if err != nil {
		return OAuthResult{}, err
	}
	return OAuthResult{LinkToken: link, Identity: ident}, nil
}

func (s *Service) resolveIdentity(ctx context.Context, ident Identity) (*users.User, error) {
	userID, err := s.Repo.FindIdentity(ctx, ident.Provider, ident.Subject)
	switch {
	case err == nil:
		u, err := s.Users.Get(ctx, userID)
		if err != nil {
			return nil, err
		}
		return &u, nil
	case !errors.Is(err, shared.ErrNotFound):
		return nil, err
	}
	if !ident.EmailVerified || ident.Email == "" {
		return nil, nil
	}
	u, err := s.Users.GetByEmail(ctx, ident.Email)
	if errors.Is(err, shared.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := s.Repo.LinkIdentity(ctx, u.ID, ident.Provider, ident.Subject, ident.Email); err != nil {
		return nil, err
	}
	s.Logger.Info("linked social identity", slog.String("provider", ident.Provider), slog.Int64("user_id", u.ID))
	return &u, nil
}

// FrontendRedirect builds the SPA landing URL for an OAuth outcome.
func (s *Service) FrontendRedirect(path string, params url.Values) string {
	base := strings.TrimRight(s.opts.FrontendURL, "/") + path
	if len(params) == 0 {
		return base
	}
	return base + "?" + params.Encode()
}

// Package auth signs analysis owners in with Google and hands the UI a bearer
// token whose subject namespaces the Google account id.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"anamnesis-backend/internal/apperrors"
	sharedauth "anamnesis-backend/internal/shared/auth"
	"anamnesis-backend/internal/shared/server/respond"
	"anamnesis-backend/internal/shared/telemetry"
)

const (
	userInfoURL   = "https://openidconnect.googleapis.com/v1/userinfo"
	subjectPrefix = "google:"
	maxPending    = 10000
	defaultTTL    = 5 * time.Minute
)

var errNotConfigured = errors.New("google login not configured")

// GoogleService handles the Google OAuth code flow.
type GoogleService struct {
	signer     *sharedauth.Signer
	oauth      *oauth2.Config
	uiRedirect string
	states     *pendingStates
	// userInfo fetches the profile for an exchanged token. Tests replace it.
	userInfo func(ctx context.Context, token *oauth2.Token) (profile, error)
}

// NewGoogleService builds a GoogleService.
func NewGoogleService(signer *sharedauth.Signer, clientID, clientSecret, redirectURL, uiRedirect string) *GoogleService {
	s := &GoogleService{
		signer: signer,
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     google.Endpoint,
		},
		uiRedirect: uiRedirect,
		states:     newPendingStates(defaultTTL, time.Now),
	}
	s.userInfo = s.fetchProfile
	return s
}

// RegisterRoutes attaches Google auth routes.
func (s *GoogleService) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/auth/google/start", s.start)
	rg.GET("/auth/google/callback", s.callback)
}

func (s *GoogleService) configured() error {
	if s.signer == nil || s.oauth.ClientID == "" || s.oauth.ClientSecret == "" || s.oauth.RedirectURL == "" || s.uiRedirect == "" {
		return errNotConfigured
	}
	return nil
}

func (s *GoogleService) start(c *gin.Context) {
	if err := s.configured(); err != nil {
		respond.Error(c, http.StatusInternalServerError, "AUTH_NOT_CONFIGURED", "Google login is not configured", nil)
		return
	}
	state := uuid.NewString()
	s.states.add(state)
	c.Redirect(http.StatusFound, s.oauth.AuthCodeURL(state))
}

func (s *GoogleService) callback(c *gin.Context) {
	if err := s.configured(); err != nil {
		respond.Error(c, http.StatusInternalServerError, "AUTH_NOT_CONFIGURED", "Google login is not configured", nil)
		return
	}
	state, code := c.Query("state"), c.Query("code")
	if state == "" || code == "" {
		s.fail(c, http.StatusBadRequest, apperrors.Validation("missing state or code", nil))
		return
	}
	if !s.states.take(state) {
		s.fail(c, http.StatusBadRequest, apperrors.Validation("login state is invalid or expired", nil))
		return
	}

	ctx := c.Request.Context()
	token, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		s.fail(c, http.StatusBadRequest, apperrors.Validation("authorization code was rejected", nil).WithCause(err))
		return
	}
	p, err := s.userInfo(ctx, token)
	if err != nil || p.Sub == "" {
		if err == nil {
			err = errors.New("profile without subject")
		}
		s.fail(c, http.StatusBadGateway, externalError("could not load the Google profile", err))
		return
	}

	jwt, err := s.signer.Sign(sharedauth.Claims{
		Sub:     subjectPrefix + p.Sub,
		Email:   p.Email,
		Name:    p.Name,
		Picture: p.Picture,
	})
	if err != nil {
		s.fail(c, http.StatusInternalServerError, apperrors.New(apperrors.CodeInternal, "could not issue a token", apperrors.CategoryInternal, apperrors.SeverityHigh, false).WithCause(err))
		return
	}
	target, err := withTokenFragment(s.uiRedirect, jwt)
	if err != nil {
		s.fail(c, http.StatusInternalServerError, apperrors.New(apperrors.CodeInternal, "invalid UI redirect", apperrors.CategoryInternal, apperrors.SeverityHigh, false).WithCause(err))
		return
	}

	telemetry.Info("auth.google.login", map[string]any{
		"request_id": c.GetString("requestId"),
		"user_id":    subjectPrefix + p.Sub,
	})
	c.Redirect(http.StatusFound, target)
}

func (s *GoogleService) fail(c *gin.Context, status int, e *apperrors.Error) {
	e.RequestID = c.GetString("requestId")
	fields := map[string]any{"request_id": e.RequestID, "code": e.Code, "message": e.Message}
	if cause := errors.Unwrap(e); cause != nil {
		fields["error"] = cause.Error()
	}
	telemetry.Warn("auth.google.failed", fields)
	respond.StructuredError(c, status, e.Public())
}

func externalError(message string, cause error) *apperrors.Error {
	return apperrors.New(apperrors.CodeExternalService, message, apperrors.CategoryExternalService, apperrors.SeverityMedium, true).WithCause(cause)
}

type profile struct {
	Sub     string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

func (s *GoogleService) fetchProfile(ctx context.Context, token *oauth2.Token) (profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, userInfoURL, nil)
	if err != nil {
		return profile{}, err
	}
	resp, err := s.oauth.Client(ctx, token).Do(req)
	if err != nil {
		return profile{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return profile{}, fmt.Errorf("userinfo status %d", resp.StatusCode)
	}
	var p profile
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return profile{}, fmt.Errorf("decode userinfo: %w", err)
	}
	return p, nil
}

// pendingStates remembers issued OAuth states until they are used or expire.
type pendingStates struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	items map[string]time.Time
}

func newPendingStates(ttl time.Duration, now func() time.Time) *pendingStates {
	return &pendingStates{ttl: ttl, now: now, items: make(map[string]time.Time)}
}

func (p *pendingStates) add(state string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	if len(p.items) >= maxPending {
		for k, exp := range p.items {
			if now.After(exp) {
				delete(p.items, k)
			}
		}
	}
	p.items[state] = now.Add(p.ttl)
}

// take consumes state. A state is valid once.
func (p *pendingStates) take(state string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	exp, ok := p.items[state]
	if !ok {
		return false
	}
	delete(p.items, state)
	return !p.now().After(exp)
}

// withTokenFragment returns rawURL with the token in its fragment.
func withTokenFragment(rawURL, token string) (string, error) {
	if rawURL == "" {
		return "", errors.New("redirect url required")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	u.Fragment = url.Values{"token": {token}}.Encode()
	return u.String(), nil
}

package service

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
	"go.uber.org/zap"

	"github.com/ifuryst/postpilot/internal/config"
)

const (
	SessionCookie = "auth_token"
	totpIssuer    = "PostPilot Dashboard"
	totpAccount   = "admin"
)

var (
	ErrInvalidCode       = errors.New("invalid one-time code")
	ErrTOTPNotConfigured = errors.New("TOTP login is not configured")
	ErrTOTPConfigured    = errors.New("TOTP secret is already configured")
)

// AuthService guards the dashboard API with TOTP sessions or a static
// bearer token.
type AuthService struct {
	cfg    config.AuthConfig
	logger *zap.Logger

	mu       sync.Mutex
	sessions map[string]time.Time
	now      func() time.Time
}

func NewAuthService(cfg config.AuthConfig, logger *zap.Logger) *AuthService {
	return &AuthService{
		cfg:      cfg,
		logger:   logger.Named("auth"),
		sessions: make(map[string]time.Time),
		now:      time.Now,
	}
}

func (a *AuthService) Enabled() bool {
	return a.cfg.Enabled
}

// GenerateSecret creates a new TOTP key and returns its secret and
// provisioning URL.
func (a *AuthService) GenerateSecret() (secret, url string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      totpIssuer,
		AccountName: totpAccount,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to generate TOTP key: %w", err)
	}
	return key.Secret(), key.URL(), nil
}

// Setup proposes a fresh secret for an unconfigured installation.
func (a *AuthService) Setup() (secret, url string, err error) {
	if a.cfg.TOTPSecret != "" {
		return "", "", ErrTOTPConfigured
	}
	return a.GenerateSecret()
}

// Login checks a one-time code and opens a session.
func (a *AuthService) Login(code string) (string, time.Time, error) {
	if a.cfg.TOTPSecret == "" {
		return "", time.Time{}, ErrTOTPNotConfigured
	}
	if !totp.Validate(strings.TrimSpace(code), a.cfg.TOTPSecret) {
		a.logger.Warn("TOTP token validation failed")
		return "", time.Time{}, ErrInvalidCode
	}

	token := uuid.NewString()
	expires := a.now().Add(a.cfg.SessionTTL)

	a.mu.Lock()
	a.pruneLocked()
	a.sessions[token] = expires
	a.mu.Unlock()

	a.logger.Info("Dashboard session created")
	return token, expires, nil
}

func (a *AuthService) ValidSession(token string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	expires, ok := a.sessions[token]
	if !ok {
		return false
	}
	if !a.now().Before(expires) {
		delete(a.sessions, token)
		return false
	}
	return true
}

func (a *AuthService) pruneLocked() {
	now := a.now()
	for token, expires := range a.sessions {
		if !now.Before(expires) {
			delete(a.sessions, token)
		}
	}
}

func (a *AuthService) validAPIToken(header string) bool {
	if a.cfg.APIToken == "" {
		return false
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(a.cfg.APIToken)) == 1
}

// AuthMiddleware rejects unauthenticated requests outside the public paths.
func (a *AuthService) AuthMiddleware(publicPaths ...string) gin.HandlerFunc {
	public := make(map[string]bool, len(publicPaths))
	for _, p := range publicPaths {
		public[p] = true
	}

	return func(c *gin.Context) {
		if !a.cfg.Enabled || public[c.Request.URL.Path] || c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}
		if a.validAPIToken(c.GetHeader("Authorization")) {
			c.Next()
			return
		}
		if token, err := c.Cookie(SessionCookie); err == nil && a.ValidSession(token) {
			c.Next()
			return
		}

		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"success":  false,
			"error":    "authentication required",
			"category": "unauthorized",
		})
	}
}

package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/noah-isme/classroom-roster/internal/models"
	appErrors "github.com/noah-isme/classroom-roster/pkg/errors"
)

// TokenConfig defines how session tokens are signed.
type TokenConfig struct {
	Secret string
	Expiry time.Duration
	Issuer string
}

// TokenService issues and validates the bearer tokens of the HTTP transport.
type TokenService struct {
	config TokenConfig
	now    func() time.Time
}

// NewTokenService constructs a TokenService instance.
func NewTokenService(config TokenConfig) *TokenService {
	if config.Expiry <= 0 {
		config.Expiry = 24 * time.Hour
	}
	if config.Issuer == "" {
		config.Issuer = "classroom-roster"
	}
	return &TokenService{config: config, now: func() time.Time { return time.Now().UTC() }}
}

// Issue signs a token bound to the identity and login time of session.
func (s *TokenService) Issue(session *models.Session) (*models.SessionToken, error) {
	if session == nil || session.Identity == "" {
		return nil, appErrors.Clone(appErrors.ErrNotAuthenticated, "no active session")
	}
	issuedAt := s.now()
	claims := &models.SessionClaims{
		Identity:  session.Identity,
		Email:     session.Email,
		LoginTime: session.LoginTime.Unix(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.config.Issuer,
			Subject:   session.Identity,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(s.config.Expiry)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.config.Secret))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign session token")
	}
	return &models.SessionToken{AccessToken: signed, ExpiresIn: int64(s.config.Expiry.Seconds())}, nil
}

// Validate parses token and returns its claims.
func (s *TokenService) Validate(token string) (*models.SessionClaims, error) {
	parsed, err := jwt.ParseWithClaims(token, &models.SessionClaims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.config.Secret), nil
	}, jwt.WithTimeFunc(s.now), jwt.WithIssuer(s.config.Issuer))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrNotAuthenticated.Code, appErrors.ErrNotAuthenticated.Status, "invalid session token")
	}
	claims, ok := parsed.Claims.(*models.SessionClaims)
	if !ok || !parsed.Valid {
		return nil, appErrors.Clone(appErrors.ErrNotAuthenticated, "invalid session token claims")
	}
	return claims, nil
}

// Matches reports whether claims were issued for session. A token from an
// earlier login of the same teacher no longer matches.
func (s *TokenService) Matches(claims *models.SessionClaims, session *models.Session) error {
	if claims == nil || session == nil || session.Identity == "" {
		return appErrors.Clone(appErrors.ErrNotAuthenticated, "no active session")
	}
	if claims.Identity != session.Identity || claims.LoginTime != session.LoginTime.Unix() {
		return appErrors.Wrap(errors.New("token belongs to another session"), appErrors.ErrNotAuthenticated.Code, appErrors.ErrNotAuthenticated.Status, "session has ended")
	}
	return nil
}

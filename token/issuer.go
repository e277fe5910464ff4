package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	apperrors "github.com/jrsteele09/primehr-session/internal/errors"
	"github.com/jrsteele09/primehr-session/users"
)

const (
	// Audience is set on every access token issued to a signed-in user.
	Audience = "authenticated"
)

// Claims are the access token claims.
type Claims struct {
	jwt.RegisteredClaims
	Email     string `json:"email"`
	Provider  string `json:"provider"`
	SessionID string `json:"session_id"`
}

// Issuer creates and verifies HS256 access tokens.
type Issuer struct {
	secret  []byte
	issuer  string
	expiry  time.Duration
	nowFunc func() time.Time
}

type IssuerOption func(*Issuer)

func WithNowFunc(now func() time.Time) IssuerOption {
	return func(i *Issuer) {
		i.nowFunc = now
	}
}

func WithExpiry(expiry time.Duration) IssuerOption {
	return func(i *Issuer) {
		i.expiry = expiry
	}
}

func NewIssuer(secret, issuer string, options ...IssuerOption) *Issuer {
	i := &Issuer{
		secret:  []byte(secret),
		issuer:  issuer,
		expiry:  time.Hour,
		nowFunc: time.Now,
	}
	for _, opt := range options {
		opt(i)
	}
	return i
}

// Issue creates a signed access token for the user and returns it with its expiry.
func (i *Issuer) Issue(user *users.User, sessionID string) (string, time.Time, error) {
	now := i.nowFunc()
	expiresAt := now.Add(i.expiry)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   user.ID,
			Audience:  jwt.ClaimStrings{Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.New().String(),
		},
		Email:     user.Email,
		Provider:  user.PrimaryProvider(),
		SessionID: sessionID,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify parses the token and checks its signature, issuer, audience and expiry.
func (i *Issuer) Verify(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.secret, nil
	},
		jwt.WithIssuer(i.issuer),
		jwt.WithAudience(Audience),
		jwt.WithTimeFunc(i.nowFunc),
	)
	if err != nil {
		if apperrors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperrors.ErrTokenExpired
		}
		return nil, apperrors.Wrapf(apperrors.ErrInvalidToken, "verify: %v", err)
	}
	return claims, nil
}

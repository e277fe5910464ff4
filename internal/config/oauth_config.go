package config

import "time"

type OAuthConfig interface {
	GetJWTSecret() string
	GetAccessTokenExpiry() time.Duration
	GetRefreshTokenExpiry() time.Duration
	GetRefreshTokenLength() int
	GetAuthFlowTimeout() time.Duration
	GetGoogleClientID() string
	GetGoogleClientSecret() string
	GetLinkedInClientID() string
	GetLinkedInClientSecret() string
}

type OAuth struct{}

var _ OAuthConfig = OAuth{}

func (OAuth) GetJWTSecret() string {
	return GetEnv("JWT_SECRET", "dev-secret-change-me")
}

func (OAuth) GetAccessTokenExpiry() time.Duration {
	return GetEnvDuration("ACCESS_TOKEN_EXPIRY", time.Hour)
}

func (OAuth) GetRefreshTokenExpiry() time.Duration {
	return GetEnvDuration("REFRESH_TOKEN_EXPIRY", 7*24*time.Hour)
}

func (OAuth) GetRefreshTokenLength() int {
	return 32 // 32 bytes = 256 bits
}

func (OAuth) GetAuthFlowTimeout() time.Duration {
	return 15 * time.Minute
}

func (OAuth) GetGoogleClientID() string {
	return GetEnv("GOOGLE_CLIENT_ID", "")
}

func (OAuth) GetGoogleClientSecret() string {
	return GetEnv("GOOGLE_CLIENT_SECRET", "")
}

func (OAuth) GetLinkedInClientID() string {
	return GetEnv("LINKEDIN_CLIENT_ID", "")
}

func (OAuth) GetLinkedInClientSecret() string {
	return GetEnv("LINKEDIN_CLIENT_SECRET", "")
}

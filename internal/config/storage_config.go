package config

import "time"

type StorageConfig interface {
	GetDatabaseURL() string
	GetRedisAddr() string
	GetRedisPassword() string
	GetProfileCacheTTL() time.Duration
	GetProfileFetchTimeout() time.Duration
}

type Storage struct{}

var _ StorageConfig = Storage{}

// GetDatabaseURL returns the Postgres URL for the profiles store. Empty selects the in-memory store.
func (Storage) GetDatabaseURL() string {
	return GetEnv("DATABASE_URL", "")
}

// GetRedisAddr returns the Redis address for the profile cache. Empty disables caching.
func (Storage) GetRedisAddr() string {
	return GetEnv("REDIS_ADDR", "")
}

func (Storage) GetRedisPassword() string {
	return GetEnv("REDIS_PASSWORD", "")
}

func (Storage) GetProfileCacheTTL() time.Duration {
	return GetEnvDuration("PROFILE_CACHE_TTL", 5*time.Minute)
}

// GetProfileFetchTimeout bounds the passive profile fetch. Zero leaves the driver defaults in place.
func (Storage) GetProfileFetchTimeout() time.Duration {
	return GetEnvDuration("PROFILE_FETCH_TIMEOUT", 0)
}

package config

import (
	"strings"
	"time"
)

type SecurityConfig interface {
	GetAutoConfirm() bool
	GetCookieSecret() string
	GetInstanceIdleTimeout() time.Duration
	GetEnableRateLimiting() bool
	GetAuthRatePerMinute() int
	GetTrustedProxies() []string
	GetMaxInstances() int
}

type Security struct{}

var _ SecurityConfig = Security{}

// GetAutoConfirm skips the email confirmation step on sign-up.
func (Security) GetAutoConfirm() bool {
	return GetEnvBool("AUTO_CONFIRM", false)
}

func (Security) GetCookieSecret() string {
	return GetEnv("COOKIE_SECRET", "dev-cookie-secret-change-me-32b!")
}

func (Security) GetInstanceIdleTimeout() time.Duration {
	return GetEnvDuration("INSTANCE_IDLE_TIMEOUT", 30*time.Minute)
}

func (Security) GetEnableRateLimiting() bool {
	return GetEnvBool("ENABLE_RATE_LIMITING", true)
}

func (Security) GetAuthRatePerMinute() int {
	return GetEnvInt("AUTH_RATE_PER_MINUTE", 20)
}

// GetTrustedProxies reads TRUSTED_PROXIES, a comma separated list of IPs or CIDRs.
// X-Forwarded-For is ignored unless the peer is one of them.
func (Security) GetTrustedProxies() []string {
	var proxies []string
	for _, p := range strings.Split(GetEnv("TRUSTED_PROXIES", ""), ",") {
		if p = strings.TrimSpace(p); p != "" {
			proxies = append(proxies, p)
		}
	}
	return proxies
}

// GetMaxInstances caps live browser instances. Zero means no cap.
func (Security) GetMaxInstances() int {
	return GetEnvInt("MAX_INSTANCES", 10000)
}

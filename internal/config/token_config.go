package config

import "time"

type TokenConfig interface {
	GetAccessTokenSecret() string
	GetRefreshTokenSecret() string
	GetAccessTokenExpiry() time.Duration
	GetRefreshTokenExpiry() time.Duration
	GetRefreshCookieName() string
}

type Tokens struct{}

var _ TokenConfig = Tokens{}

// GetAccessTokenSecret returns the HMAC secret used to sign access tokens.
// Access and refresh tokens use separate secrets so a token minted for one
// purpose can never verify as the other.
func (Tokens) GetAccessTokenSecret() string {
	return GetEnv("ACCESS_TOKEN_SECRET", "")
}

func (Tokens) GetRefreshTokenSecret() string {
	return GetEnv("REFRESH_TOKEN_SECRET", "")
}

func (Tokens) GetAccessTokenExpiry() time.Duration {
	return getDuration("ACCESS_TOKEN_EXPIRY", time.Minute)
}

func (Tokens) GetRefreshTokenExpiry() time.Duration {
	return getDuration("REFRESH_TOKEN_EXPIRY", 24*time.Hour)
}

func (Tokens) GetRefreshCookieName() string {
	return GetEnv("REFRESH_COOKIE_NAME", "jwt")
}

func getDuration(envVar string, defaultValue time.Duration) time.Duration {
	value := GetEnv(envVar, "")
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return defaultValue
	}
	return d
}

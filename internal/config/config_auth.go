package config

import "time"

// AuthConfig holds the JWT signing secret and static API keys used to
// authenticate CLI/session access; there is no OAuth front-end in this
// build (see DESIGN.md's golang-jwt/v5 drop note — no HTTP gateway
// consumes these beyond the CLI's own bearer-token check).
type AuthConfig struct {
	JWTSecret   string         `yaml:"jwt_secret"`
	TokenExpiry time.Duration  `yaml:"token_expiry"`
	APIKeys     []APIKeyConfig `yaml:"api_keys"`
}

// APIKeyConfig binds a static API key to the identity it authenticates as.
type APIKeyConfig struct {
	Key    string `yaml:"key"`
	UserID string `yaml:"user_id"`
	Email  string `yaml:"email"`
	Name   string `yaml:"name"`
}

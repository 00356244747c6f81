// Package config loads hybridauth server settings from the environment and an
// optional .env file using Viper.
package config

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	hybridAuth "github.com/MrEthical07/hybridAuth"
	"github.com/MrEthical07/hybridAuth/account"
)

// env mirrors the environment variables one-to-one.
type env struct {
	HTTPAddr          string `mapstructure:"HTTP_ADDR"`
	DatabaseURL       string `mapstructure:"DATABASE_URL"`
	RedisAddr         string `mapstructure:"REDIS_ADDR"`
	RedisPassword     string `mapstructure:"REDIS_PASSWORD"`
	RedisDB           int    `mapstructure:"REDIS_DB"`
	LogLevel          string `mapstructure:"LOG_LEVEL"`
	TrustProxyHeaders bool   `mapstructure:"TRUST_PROXY_HEADERS"`

	AuthMode string `mapstructure:"AUTH_MODE"`

	JWTSigningMethod string        `mapstructure:"JWT_SIGNING_METHOD"`
	JWTSecret        string        `mapstructure:"JWT_SECRET"`
	JWTPrivateKey    string        `mapstructure:"JWT_PRIVATE_KEY"`
	JWTPublicKey     string        `mapstructure:"JWT_PUBLIC_KEY"`
	JWTIssuer        string        `mapstructure:"JWT_ISSUER"`
	JWTAudience      string        `mapstructure:"JWT_AUDIENCE"`
	AccessTokenTTL   time.Duration `mapstructure:"ACCESS_TOKEN_TTL"`
	RefreshTokenTTL  time.Duration `mapstructure:"REFRESH_TOKEN_TTL"`
	RotateRefresh    bool          `mapstructure:"ROTATE_REFRESH_TOKENS"`

	LockoutThreshold int           `mapstructure:"LOCKOUT_THRESHOLD"`
	LockoutWindow    time.Duration `mapstructure:"LOCKOUT_WINDOW"`

	RequireEmailVerification bool          `mapstructure:"REQUIRE_EMAIL_VERIFICATION"`
	EmailVerificationURL     string        `mapstructure:"EMAIL_VERIFICATION_URL"`
	PasswordResetTTL         time.Duration `mapstructure:"PASSWORD_RESET_TTL"`
	PasswordResetURL         string        `mapstructure:"PASSWORD_RESET_URL"`

	FederatedIssuer        string `mapstructure:"FEDERATED_ISSUER"`
	FederatedJWKSURL       string `mapstructure:"FEDERATED_JWKS_URL"`
	FederatedClientID      string `mapstructure:"FEDERATED_CLIENT_ID"`
	FederatedAudience      string `mapstructure:"FEDERATED_AUDIENCE"`
	FederatedAutoProvision bool   `mapstructure:"FEDERATED_AUTO_PROVISION"`
	FederatedEmailLinking  bool   `mapstructure:"FEDERATED_ALLOW_EMAIL_LINKING"`
	FederatedDefaultRole   string `mapstructure:"FEDERATED_DEFAULT_ROLE"`
	FederatedVerifiedOnly  bool   `mapstructure:"FEDERATED_PROVISION_VERIFIED_ONLY"`

	LatencyHistograms bool `mapstructure:"METRICS_LATENCY_HISTOGRAMS"`
}

// Settings is everything the hybridauth binary needs to start.
type Settings struct {
	Auth hybridAuth.Config

	HTTPAddr          string
	DatabaseURL       string
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	LogLevel          string
	TrustProxyHeaders bool
}

// Load reads .env (if present), then the environment. Environment variables
// override .env. The returned Auth config has already passed Validate.
func Load() (*Settings, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // a missing .env is fine

	v.AutomaticEnv()
	setDefaults(v)

	var e env
	if err := v.Unmarshal(&e); err != nil {
		return nil, err
	}
	return e.settings()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("TRUST_PROXY_HEADERS", false)

	v.SetDefault("AUTH_MODE", string(hybridAuth.ModeHybrid))

	v.SetDefault("JWT_SIGNING_METHOD", "ed25519")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_ISSUER", "hybridauth")
	v.SetDefault("JWT_AUDIENCE", "")
	v.SetDefault("ACCESS_TOKEN_TTL", "1h")
	v.SetDefault("REFRESH_TOKEN_TTL", "720h")
	v.SetDefault("ROTATE_REFRESH_TOKENS", true)

	v.SetDefault("LOCKOUT_THRESHOLD", 5)
	v.SetDefault("LOCKOUT_WINDOW", "15m")

	v.SetDefault("REQUIRE_EMAIL_VERIFICATION", false)
	v.SetDefault("EMAIL_VERIFICATION_URL", "")
	v.SetDefault("PASSWORD_RESET_TTL", "60m")
	v.SetDefault("PASSWORD_RESET_URL", "")

	v.SetDefault("FEDERATED_ISSUER", "")
	v.SetDefault("FEDERATED_JWKS_URL", "")
	v.SetDefault("FEDERATED_CLIENT_ID", "")
	v.SetDefault("FEDERATED_AUDIENCE", "")
	v.SetDefault("FEDERATED_AUTO_PROVISION", false)
	v.SetDefault("FEDERATED_ALLOW_EMAIL_LINKING", true)
	v.SetDefault("FEDERATED_DEFAULT_ROLE", "user")
	v.SetDefault("FEDERATED_PROVISION_VERIFIED_ONLY", false)

	v.SetDefault("METRICS_LATENCY_HISTOGRAMS", false)
}

func (e env) settings() (*Settings, error) {
	if e.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if e.RedisAddr == "" {
		return nil, errors.New("config: REDIS_ADDR must be set")
	}

	mode, err := hybridAuth.ParseAuthMode(e.AuthMode)
	if err != nil {
		return nil, fmt.Errorf("config: AUTH_MODE: %w", err)
	}
	role, err := account.ParseRole(e.FederatedDefaultRole)
	if err != nil {
		return nil, fmt.Errorf("config: FEDERATED_DEFAULT_ROLE: %w", err)
	}

	cfg := hybridAuth.DefaultConfig()
	cfg.Mode = mode

	cfg.JWT.SigningMethod = strings.ToLower(e.JWTSigningMethod)
	cfg.JWT.Issuer = e.JWTIssuer
	cfg.JWT.Audience = e.JWTAudience
	cfg.JWT.AccessTTL = e.AccessTokenTTL
	if err := e.applyKeys(&cfg.JWT); err != nil {
		return nil, err
	}

	cfg.Session.RefreshTTL = e.RefreshTokenTTL
	cfg.Session.RotateRefreshTokens = e.RotateRefresh

	cfg.Lockout.Threshold = e.LockoutThreshold
	cfg.Lockout.Window = e.LockoutWindow

	cfg.EmailVerification.RequireForLogin = e.RequireEmailVerification
	cfg.EmailVerification.LinkBaseURL = e.EmailVerificationURL
	cfg.PasswordReset.ResetTTL = e.PasswordResetTTL
	cfg.PasswordReset.LinkBaseURL = e.PasswordResetURL

	cfg.Federated.Issuer = e.FederatedIssuer
	cfg.Federated.JWKSURL = e.FederatedJWKSURL
	cfg.Federated.ClientID = e.FederatedClientID
	cfg.Federated.Audience = e.FederatedAudience
	cfg.Federated.AutoProvision = e.FederatedAutoProvision
	cfg.Federated.AllowEmailLinking = e.FederatedEmailLinking
	cfg.Federated.DefaultRole = role
	cfg.Federated.ProvisionVerifiedOnly = e.FederatedVerifiedOnly

	cfg.Metrics.EnableLatencyHistograms = e.LatencyHistograms

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return &Settings{
		Auth:              cfg,
		HTTPAddr:          e.HTTPAddr,
		DatabaseURL:       e.DatabaseURL,
		RedisAddr:         e.RedisAddr,
		RedisPassword:     e.RedisPassword,
		RedisDB:           e.RedisDB,
		LogLevel:          e.LogLevel,
		TrustProxyHeaders: e.TrustProxyHeaders,
	}, nil
}

// applyKeys fills signing keys. hs256 uses JWT_SECRET verbatim. ed25519 keys
// are PEM or base64 of the raw key; a raw private key also yields the
// public key.
func (e env) applyKeys(jc *hybridAuth.JWTConfig) error {
	switch jc.SigningMethod {
	case "hs256":
		jc.PrivateKey = []byte(e.JWTSecret)
		return nil
	case "ed25519":
	default:
		return fmt.Errorf("config: unsupported JWT_SIGNING_METHOD %q", e.JWTSigningMethod)
	}

	priv, err := decodeKey(e.JWTPrivateKey)
	if err != nil {
		return fmt.Errorf("config: JWT_PRIVATE_KEY: %w", err)
	}
	pub, err := decodeKey(e.JWTPublicKey)
	if err != nil {
		return fmt.Errorf("config: JWT_PUBLIC_KEY: %w", err)
	}
	if len(pub) == 0 && len(priv) == ed25519.PrivateKeySize {
		pub = []byte(ed25519.PrivateKey(priv).Public().(ed25519.PublicKey))
	}
	jc.PrivateKey = priv
	jc.PublicKey = pub
	return nil
}

func decodeKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if strings.HasPrefix(s, "-----BEGIN") {
		return []byte(strings.ReplaceAll(s, `\n`, "\n")), nil
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, errors.New("must be PEM or base64")
	}
	return raw, nil
}

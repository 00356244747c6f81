package hybridAuth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/hybridAuth/account"
	"github.com/MrEthical07/hybridAuth/password"
)

// AuthMode selects which entry points the engine accepts.
type AuthMode string

const (
	// ModeLocal accepts only email and password.
	ModeLocal AuthMode = "local"
	// ModeFederated accepts only identity-provider tokens.
	ModeFederated AuthMode = "federated"
	// ModeHybrid accepts both.
	ModeHybrid AuthMode = "hybrid"
)

// AllowsLocal reports whether password login is enabled.
func (m AuthMode) AllowsLocal() bool { return m == ModeLocal || m == ModeHybrid }

// AllowsFederated reports whether provider-token login is enabled.
func (m AuthMode) AllowsFederated() bool { return m == ModeFederated || m == ModeHybrid }

// ParseAuthMode maps a configuration string to an AuthMode.
func ParseAuthMode(s string) (AuthMode, error) {
	switch m := AuthMode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeLocal, ModeFederated, ModeHybrid:
		return m, nil
	default:
		return "", fmt.Errorf("unknown auth mode %q", s)
	}
}

// Config is built once at startup and treated as immutable afterwards.
type Config struct {
	Mode              AuthMode
	JWT               JWTConfig
	Session           SessionConfig
	Password          PasswordConfig
	PasswordReset     PasswordResetConfig
	EmailVerification EmailVerificationConfig
	Lockout           LockoutConfig
	Federated         FederatedConfig
	Audit             AuditConfig
	Metrics           MetricsConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls access-token signing.
type JWTConfig struct {
	AccessTTL     time.Duration
	SigningMethod string // "ed25519" (default) or "hs256"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls refresh sessions in Redis.
type SessionConfig struct {
	RedisPrefix         string
	RefreshTTL          time.Duration
	RotateRefreshTokens bool
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds argon2id costs and the acceptance policy for new
// passwords.
type PasswordConfig struct {
	Memory         uint32 // in KB
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	UpgradeOnLogin bool
	MinLength      int
	CommonList     []string
}

func (c PasswordConfig) hasherConfig() password.Config {
	return password.Config{
		Memory:      c.Memory,
		Time:        c.Time,
		Parallelism: c.Parallelism,
		SaltLength:  c.SaltLength,
		KeyLength:   c.KeyLength,
	}
}

func (c PasswordConfig) policy() password.Policy {
	p := password.DefaultPolicy()
	if c.MinLength > 0 {
		p.MinLength = c.MinLength
	}
	if len(c.CommonList) > 0 {
		p.Common = c.CommonList
	}
	return p
}

// PasswordResetConfig controls forgot/reset-password tokens.
type PasswordResetConfig struct {
	Enabled     bool
	ResetTTL    time.Duration
	MaxAttempts int
	// RequestsPerEmail bounds forgot-password requests per email per RequestWindow.
	RequestsPerEmail int
	RequestWindow    time.Duration
	// LinkBaseURL is prefixed to the token in notifications.
	LinkBaseURL string
}

// EmailVerificationConfig controls verify-email tokens.
type EmailVerificationConfig struct {
	Enabled          bool
	VerificationTTL  time.Duration
	MaxAttempts      int
	RequireForLogin  bool
	RequestsPerEmail int
	RequestWindow    time.Duration
	LinkBaseURL      string
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

// LockoutConfig controls the persistent failed-login lock.
type LockoutConfig struct {
	Threshold int
	Window    time.Duration
}

/*
====================================
FEDERATED CONFIG
====================================
*/

// FederatedConfig describes the trusted identity provider and the linking
// policy.
type FederatedConfig struct {
	Issuer            string
	JWKSURL           string
	ClientID          string
	Audience          string
	Algorithms        []string
	Leeway            time.Duration
	AssumeIDTokenUse  bool
	AutoProvision     bool
	AllowEmailLinking bool
	DefaultRole       account.Role
	// ProvisionVerifiedOnly limits auto-provisioning to identities whose
	// provider asserts email_verified.
	ProvisionVerifiedOnly bool
}

/*
====================================
AUDIT & METRICS CONFIG
====================================
*/

// AuditConfig controls async audit delivery.
type AuditConfig struct {
	Enabled     bool
	BufferSize  int
	DropIfFull  bool
	SinkTimeout time.Duration
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns production defaults. Keys and provider settings
// must still be supplied.
func DefaultConfig() Config {
	return Config{
		Mode: ModeHybrid,
		JWT: JWTConfig{
			AccessTTL:     time.Hour,
			SigningMethod: "ed25519",
			Issuer:        "hybridauth",
			Leeway:        30 * time.Second,
		},
		Session: SessionConfig{
			RedisPrefix:         "has",
			RefreshTTL:          30 * 24 * time.Hour,
			RotateRefreshTokens: true,
		},
		Password: PasswordConfig{
			Memory:         64 * 1024,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			UpgradeOnLogin: true,
			MinLength:      12,
		},
		PasswordReset: PasswordResetConfig{
			Enabled:          true,
			ResetTTL:         60 * time.Minute,
			MaxAttempts:      5,
			RequestsPerEmail: 3,
			RequestWindow:    time.Hour,
		},
		EmailVerification: EmailVerificationConfig{
			Enabled:          true,
			VerificationTTL:  24 * time.Hour,
			MaxAttempts:      5,
			RequireForLogin:  false,
			RequestsPerEmail: 3,
			RequestWindow:    time.Hour,
		},
		Lockout: LockoutConfig{
			Threshold: 5,
			Window:    15 * time.Minute,
		},
		Federated: FederatedConfig{
			Algorithms:        []string{"RS256"},
			Leeway:            60 * time.Second,
			AutoProvision:     false,
			AllowEmailLinking: true,
			DefaultRole:       account.RoleUser,
		},
		Audit: AuditConfig{
			Enabled:     true,
			BufferSize:  1024,
			DropIfFull:  true,
			SinkTimeout: 5 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	out.Password.CommonList = append([]string(nil), cfg.Password.CommonList...)
	out.Federated.Algorithms = append([]string(nil), cfg.Federated.Algorithms...)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks internal consistency. It does not contact Redis or the
// identity provider.
func (c *Config) Validate() error {
	if _, err := ParseAuthMode(string(c.Mode)); err != nil {
		return err
	}

	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	switch c.JWT.SigningMethod {
	case "ed25519":
		if len(c.JWT.PrivateKey) == 0 {
			return errors.New("ed25519 requires PrivateKey")
		}
		if len(c.JWT.PublicKey) == 0 {
			return errors.New("ed25519 requires PublicKey")
		}
	case "hs256":
		if len(c.JWT.PrivateKey) < 32 {
			return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}

	// Session
	if c.Session.RefreshTTL <= 0 {
		return errors.New("Session RefreshTTL must be > 0")
	}
	if c.Session.RefreshTTL < c.JWT.AccessTTL {
		return errors.New("Session RefreshTTL must be >= JWT AccessTTL")
	}

	// Password
	if err := c.Password.hasherConfig().Validate(); err != nil {
		return fmt.Errorf("Password: %w", err)
	}
	if err := c.Password.policy().Validate(); err != nil {
		return fmt.Errorf("Password: %w", err)
	}

	if c.PasswordReset.Enabled {
		if c.PasswordReset.ResetTTL <= 0 {
			return errors.New("PasswordReset ResetTTL must be > 0")
		}
		if c.PasswordReset.MaxAttempts <= 0 {
			return errors.New("PasswordReset MaxAttempts must be > 0")
		}
	}
	if c.EmailVerification.Enabled {
		if c.EmailVerification.VerificationTTL <= 0 {
			return errors.New("EmailVerification VerificationTTL must be > 0")
		}
		if c.EmailVerification.MaxAttempts <= 0 {
			return errors.New("EmailVerification MaxAttempts must be > 0")
		}
	}
	if c.EmailVerification.RequireForLogin && !c.EmailVerification.Enabled {
		return errors.New("EmailVerification RequireForLogin requires EmailVerification Enabled")
	}

	// Lockout
	if c.Lockout.Threshold <= 0 {
		return errors.New("Lockout Threshold must be > 0")
	}
	if c.Lockout.Window <= 0 {
		return errors.New("Lockout Window must be > 0")
	}

	// Federated
	if c.Mode.AllowsFederated() {
		if strings.TrimSpace(c.Federated.Issuer) == "" {
			return errors.New("Federated Issuer is required in federated and hybrid modes")
		}
		if strings.TrimSpace(c.Federated.ClientID) == "" {
			return errors.New("Federated ClientID is required in federated and hybrid modes")
		}
	}
	if c.Federated.Leeway < 0 {
		return errors.New("Federated Leeway must be >= 0")
	}
	if !c.Federated.DefaultRole.Valid() {
		return errors.New("Federated DefaultRole is invalid")
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	return nil
}

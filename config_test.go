package hybridAuth

import (
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/hybridAuth/account"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{
			name:      "test defaults valid",
			mutate:    func(*Config) {},
			wantValid: true,
		},
		{
			name: "unknown mode invalid",
			mutate: func(c *Config) {
				c.Mode = "saml"
			},
			wantValid: false,
		},
		{
			name: "hs256 with long secret valid",
			mutate: func(c *Config) {
				c.JWT.SigningMethod = "hs256"
			},
			wantValid: true,
		},
		{
			name: "unsupported signing method invalid",
			mutate: func(c *Config) {
				c.JWT.SigningMethod = "rs256"
			},
			wantValid: false,
		},
		{
			name: "refresh shorter than access invalid",
			mutate: func(c *Config) {
				c.Session.RefreshTTL = time.Minute
			},
			wantValid: false,
		},
		{
			name: "weak argon2 memory invalid",
			mutate: func(c *Config) {
				c.Password.Memory = 1024
			},
			wantValid: false,
		},
		{
			name: "short policy invalid",
			mutate: func(c *Config) {
				c.Password.MinLength = 4
			},
			wantValid: false,
		},
		{
			name: "require verification without feature invalid",
			mutate: func(c *Config) {
				c.EmailVerification.Enabled = false
				c.EmailVerification.RequireForLogin = true
			},
			wantValid: false,
		},
		{
			name: "zero lockout threshold invalid",
			mutate: func(c *Config) {
				c.Lockout.Threshold = 0
			},
			wantValid: false,
		},
		{
			name: "hybrid without issuer invalid",
			mutate: func(c *Config) {
				c.Federated.Issuer = " "
			},
			wantValid: false,
		},
		{
			name: "local mode without issuer valid",
			mutate: func(c *Config) {
				c.Mode = ModeLocal
				c.Federated.Issuer = ""
				c.Federated.ClientID = ""
			},
			wantValid: true,
		},
		{
			name: "invalid default role",
			mutate: func(c *Config) {
				c.Federated.DefaultRole = account.RoleUnknown
			},
			wantValid: false,
		},
		{
			name: "audit buffer required",
			mutate: func(c *Config) {
				c.Audit.BufferSize = 0
			},
			wantValid: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig(t)
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantValid && err != nil {
				t.Fatalf("expected valid config, got %v", err)
			}
			if !tc.wantValid && err == nil {
				t.Fatal("expected invalid config")
			}
		})
	}
}

func TestParseAuthMode(t *testing.T) {
	for in, want := range map[string]AuthMode{"local": ModeLocal, "FEDERATED": ModeFederated, " hybrid ": ModeHybrid} {
		got, err := ParseAuthMode(in)
		if err != nil || got != want {
			t.Fatalf("ParseAuthMode(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseAuthMode("cognito"); err == nil {
		t.Fatal("expected unknown mode to fail")
	}
}

func TestBuilderRequiresDependencies(t *testing.T) {
	cfg := testConfig(t)
	cfg.Mode = ModeLocal

	if _, err := New().WithConfig(cfg).WithAccountStore(account.NewMemoryStore()).Build(); err == nil {
		t.Fatal("expected missing redis to fail")
	}

	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	defer rdb.Close()
	if _, err := New().WithConfig(cfg).WithRedis(rdb).Build(); err == nil {
		t.Fatal("expected missing account store to fail")
	}

	b := New().WithConfig(cfg).WithRedis(rdb).WithAccountStore(account.NewMemoryStore())
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()
	if _, err := b.Build(); err == nil {
		t.Fatal("builder must be single use")
	}
}

func TestBuilderClonesConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Mode = ModeLocal
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	defer rdb.Close()

	engine, err := New().WithConfig(cfg).WithRedis(rdb).WithAccountStore(account.NewMemoryStore()).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()

	cfg.JWT.PrivateKey[0] ^= 0xff
	if engine.config.JWT.PrivateKey[0] == cfg.JWT.PrivateKey[0] {
		t.Fatal("engine config must not alias caller key material")
	}
}

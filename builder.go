package hybridAuth

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/MrEthical07/hybridAuth/account"
	"github.com/MrEthical07/hybridAuth/federated"
	internalaudit "github.com/MrEthical07/hybridAuth/internal/audit"
	"github.com/MrEthical07/hybridAuth/internal/rate"
	"github.com/MrEthical07/hybridAuth/internal/stores"
	"github.com/MrEthical07/hybridAuth/jwt"
	"github.com/MrEthical07/hybridAuth/linking"
	"github.com/MrEthical07/hybridAuth/password"
	"github.com/MrEthical07/hybridAuth/session"
)

// dummyPassword is hashed once at build time so that failed lookups spend
// the same argon2 work as a real mismatch.
const dummyPassword = "hybridauth-constant-shape-dummy"

// Builder assembles an [Engine]. A Builder can be used once.
type Builder struct {
	config    Config
	redis     redis.UniversalClient
	accounts  account.Store
	auditSink AuditSink
	logger    *zap.Logger
	notifier  Notifier
	verifier  FederatedVerifier

	built bool
}

func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithAccountStore sets the authoritative account store.
func (b *Builder) WithAccountStore(store account.Store) *Builder {
	b.accounts = store
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) WithNotifier(n Notifier) *Builder {
	b.notifier = n
	return b
}

// WithFederatedVerifier overrides the verifier that Build would otherwise
// construct from Config.Federated against the provider's remote JWKS.
func (b *Builder) WithFederatedVerifier(v FederatedVerifier) *Builder {
	b.verifier = v
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.accounts == nil {
		return nil, errors.New("account store required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	notifier := b.notifier
	if notifier == nil {
		notifier = NewLogNotifier(logger)
	}

	engine := &Engine{
		config:   cloneConfig(cfg),
		accounts: b.accounts,
		sessions: session.NewStore(b.redis, cfg.Session.RedisPrefix),
		oneTime:  stores.NewOneTimeStore(b.redis, cfg.Session.RedisPrefix+":ot", max(cfg.PasswordReset.MaxAttempts, cfg.EmailVerification.MaxAttempts)),
		throttle: rate.New(b.redis, cfg.Session.RedisPrefix+":rl"),
		metrics:  NewMetrics(cfg.Metrics),
		logger:   logger.Named("hybridauth"),
		notifier: notifier,
		policy:   cfg.Password.policy(),
	}

	sink := b.auditSink
	if sink == nil {
		sink = NewZapSink(logger)
	}
	engine.audit = internalaudit.NewDispatcher[AuditEvent](internalaudit.Config{
		Enabled:     cfg.Audit.Enabled,
		BufferSize:  cfg.Audit.BufferSize,
		DropIfFull:  cfg.Audit.DropIfFull,
		SinkTimeout: cfg.Audit.SinkTimeout,
	}, sink, engine.onAuditSinkError)

	hasher, err := password.NewHasher(cfg.Password.hasherConfig())
	if err != nil {
		return nil, err
	}
	engine.hasher = hasher
	if engine.dummyHash, err = hasher.Hash(dummyPassword); err != nil {
		return nil, err
	}

	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		KeyID:         cfg.JWT.KeyID,
	})
	if err != nil {
		return nil, err
	}
	engine.jwtManager = jm

	if cfg.Mode.AllowsFederated() {
		verifier := b.verifier
		if verifier == nil {
			v, err := federated.NewVerifier(context.Background(), federated.Config{
				Issuer:           cfg.Federated.Issuer,
				JWKSURL:          cfg.Federated.JWKSURL,
				ClientID:         cfg.Federated.ClientID,
				Audience:         cfg.Federated.Audience,
				Algorithms:       cfg.Federated.Algorithms,
				Leeway:           cfg.Federated.Leeway,
				AssumeIDTokenUse: cfg.Federated.AssumeIDTokenUse,
			})
			if err != nil {
				return nil, err
			}
			verifier = v
		}
		engine.federated = verifier
		engine.resolver = linking.NewResolver(b.accounts, linking.Config{
			AllowEmailLinking:               cfg.Federated.AllowEmailLinking,
			AutoProvision:                   cfg.Federated.AutoProvision,
			RequireVerifiedEmailToProvision: cfg.Federated.ProvisionVerifiedOnly,
			DefaultRole:                     cfg.Federated.DefaultRole,
		})
	}

	b.built = true

	return engine, nil
}

package hybridAuth

import (
	"context"
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-jose/go-jose/v4"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/hybridAuth/account"
	"github.com/MrEthical07/hybridAuth/federated"
)

const (
	testIssuer   = "https://idp.example.com/pool"
	testClientID = "client-123"
	testPassword = "Correct-Horse-42!"
)

type recordingSink struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (s *recordingSink) Emit(_ context.Context, event AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) snapshot() []AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]AuditEvent(nil), s.events...)
}

func (s *recordingSink) count(action AuditAction) int {
	n := 0
	for _, ev := range s.snapshot() {
		if ev.Action == action {
			n++
		}
	}
	return n
}

// waitFor blocks until at least one event with action was delivered.
func (s *recordingSink) waitFor(t *testing.T, action AuditAction) AuditEvent {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, ev := range s.snapshot() {
			if ev.Action == action {
				return ev
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("audit event %s not delivered; got %v", action, s.actions())
	return AuditEvent{}
}

func (s *recordingSink) actions() []AuditAction {
	var out []AuditAction
	for _, ev := range s.snapshot() {
		out = append(out, ev.Action)
	}
	return out
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
}

func (n *recordingNotifier) Notify(_ context.Context, msg Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return nil
}

func (n *recordingNotifier) last(t *testing.T, kind NotificationKind) Notification {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.sent) - 1; i >= 0; i-- {
		if n.sent[i].Kind == kind {
			return n.sent[i]
		}
	}
	t.Fatalf("no %s notification sent", kind)
	return Notification{}
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type testIdP struct {
	key *rsa.PrivateKey
}

func newTestIdP(t *testing.T) *testIdP {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	return &testIdP{key: key}
}

func (p *testIdP) signWith(t *testing.T, key *rsa.PrivateKey, claims map[string]any) string {
	t.Helper()
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.RS256, Key: key}, (&jose.SignerOptions{}).WithType("JWT"))
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		t.Fatalf("marshal claims: %v", err)
	}
	obj, err := signer.Sign(payload)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	raw, err := obj.CompactSerialize()
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	return raw
}

func (p *testIdP) claims(sub, email string, verified bool) map[string]any {
	return map[string]any{
		"iss":            testIssuer,
		"sub":            sub,
		"aud":            testClientID,
		"token_use":      "id",
		"exp":            time.Now().Add(time.Hour).Unix(),
		"iat":            time.Now().Unix(),
		"email":          email,
		"email_verified": verified,
	}
}

func (p *testIdP) idToken(t *testing.T, sub, email string, verified bool) string {
	t.Helper()
	return p.signWith(t, p.key, p.claims(sub, email, verified))
}

func (p *testIdP) accessToken(t *testing.T, sub string) string {
	t.Helper()
	return p.signWith(t, p.key, map[string]any{
		"iss":       testIssuer,
		"sub":       sub,
		"client_id": testClientID,
		"token_use": "access",
		"exp":       time.Now().Add(time.Hour).Unix(),
		"iat":       time.Now().Unix(),
	})
}

var errAccountsDown = errors.New("accounts: connection refused")

// outageStore fails GetByID while down is set.
type outageStore struct {
	*account.MemoryStore
	down atomic.Bool
}

func (s *outageStore) GetByID(ctx context.Context, id string) (account.Account, error) {
	if s.down.Load() {
		return account.Account{}, errAccountsDown
	}
	return s.MemoryStore.GetByID(ctx, id)
}

type testEnv struct {
	engine   *Engine
	accounts *account.MemoryStore
	store    *outageStore
	audit    *recordingSink
	notifier *recordingNotifier
	idp      *testIdP
	mr       *miniredis.Miniredis
	rdb      *redis.Client
}

func testConfig(t *testing.T) Config {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}

	cfg := DefaultConfig()
	cfg.JWT.PrivateKey = priv
	cfg.JWT.PublicKey = pub
	cfg.JWT.Audience = "hybridauth-api"
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Federated.Issuer = testIssuer
	cfg.Federated.ClientID = testClientID
	cfg.Audit.SinkTimeout = time.Second
	return cfg
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := testConfig(t)
	if mutate != nil {
		mutate(&cfg)
	}

	env := &testEnv{
		accounts: account.NewMemoryStore(),
		audit:    &recordingSink{},
		notifier: &recordingNotifier{},
		idp:      newTestIdP(t),
		mr:       mr,
		rdb:      rdb,
	}
	env.store = &outageStore{MemoryStore: env.accounts}

	builder := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithAccountStore(env.store).
		WithAuditSink(env.audit).
		WithNotifier(env.notifier)
	if cfg.Mode.AllowsFederated() {
		keys := &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&env.idp.key.PublicKey}}
		v, err := federated.NewVerifierWithKeySet(federated.Config{
			Issuer:   testIssuer,
			ClientID: testClientID,
			Leeway:   30 * time.Second,
		}, keys)
		if err != nil {
			t.Fatalf("NewVerifierWithKeySet failed: %v", err)
		}
		builder = builder.WithFederatedVerifier(v)
	}

	engine, err := builder.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	env.engine = engine

	t.Cleanup(func() {
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	})
	return env
}

// addLocal stores an active local account with testPassword.
func (env *testEnv) addLocal(t *testing.T, email string, role account.Role) account.Account {
	t.Helper()
	hash, err := env.engine.hasher.Hash(testPassword)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	acct, err := env.accounts.Create(context.Background(), account.Account{
		Email:         email,
		PasswordHash:  hash,
		Role:          role,
		Active:        true,
		Provider:      account.ProviderLocal,
		EmailVerified: true,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return acct
}

func (env *testEnv) get(t *testing.T, id string) account.Account {
	t.Helper()
	acct, err := env.accounts.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	return acct
}

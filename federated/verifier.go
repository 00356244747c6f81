package federated

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-jose/go-jose/v4"
)

var (
	// ErrVerification is returned for every rejected token.
	ErrVerification = errors.New("federated token verification failed")
	// ErrKeySetUnavailable marks failures to obtain the provider's keys.
	ErrKeySetUnavailable = errors.New("federated key set unavailable")
)

// KeySet verifies a compact JWS and returns its payload. *oidc.RemoteKeySet
// and *oidc.StaticKeySet both satisfy it.
type KeySet interface {
	VerifySignature(ctx context.Context, jwt string) ([]byte, error)
}

// Config describes the trusted provider.
type Config struct {
	Issuer   string
	JWKSURL  string
	ClientID string
	// Audience expected in id tokens. Defaults to ClientID.
	Audience string
	// Algorithms allowed in the JOSE header. Defaults to RS256.
	Algorithms []string
	Leeway     time.Duration
	// AssumeIDTokenUse treats tokens without token_use as identity tokens,
	// for providers that do not send the claim.
	AssumeIDTokenUse bool
}

// Verifier validates provider tokens. It is safe for concurrent use.
type Verifier struct {
	cfg    Config
	algs   []jose.SignatureAlgorithm
	keys   KeySet
	remote bool
	now    func() time.Time
}

// NewVerifier returns a Verifier backed by the remote JWKS at cfg.JWKSURL,
// defaulting to the issuer's /.well-known/jwks.json. ctx scopes the key
// set's HTTP client and must outlive the Verifier.
func NewVerifier(ctx context.Context, cfg Config) (*Verifier, error) {
	if cfg.JWKSURL == "" && cfg.Issuer != "" {
		cfg.JWKSURL = strings.TrimRight(cfg.Issuer, "/") + "/.well-known/jwks.json"
	}
	if cfg.JWKSURL == "" {
		return nil, errors.New("federated verifier requires a jwks url or issuer")
	}
	v, err := NewVerifierWithKeySet(cfg, oidc.NewRemoteKeySet(ctx, cfg.JWKSURL))
	if err != nil {
		return nil, err
	}
	v.remote = true
	return v, nil
}

// NewVerifierWithKeySet returns a Verifier that trusts keys.
func NewVerifierWithKeySet(cfg Config, keys KeySet) (*Verifier, error) {
	if cfg.Issuer == "" {
		return nil, errors.New("federated verifier requires an issuer")
	}
	if cfg.ClientID == "" {
		return nil, errors.New("federated verifier requires a client id")
	}
	if keys == nil {
		return nil, errors.New("federated verifier requires a key set")
	}
	if cfg.Audience == "" {
		cfg.Audience = cfg.ClientID
	}
	if cfg.Leeway < 0 || cfg.Leeway > 5*time.Minute {
		return nil, errors.New("invalid federated leeway")
	}
	if len(cfg.Algorithms) == 0 {
		cfg.Algorithms = []string{oidc.RS256}
	}

	algs := make([]jose.SignatureAlgorithm, 0, len(cfg.Algorithms))
	for _, a := range cfg.Algorithms {
		a = strings.ToUpper(strings.TrimSpace(a))
		if a == "" || a == "NONE" || strings.HasPrefix(a, "HS") {
			return nil, fmt.Errorf("federated algorithm %q not allowed", a)
		}
		algs = append(algs, jose.SignatureAlgorithm(a))
	}

	return &Verifier{cfg: cfg, algs: algs, keys: keys, now: time.Now}, nil
}

// VerifyIdentity accepts only identity tokens.
func (v *Verifier) VerifyIdentity(ctx context.Context, raw string) (*Claims, error) {
	return v.verify(ctx, raw, false)
}

// VerifyBearer accepts identity or access tokens. It backs bearer
// authentication where a provider token is presented directly.
func (v *Verifier) VerifyBearer(ctx context.Context, raw string) (*Claims, error) {
	return v.verify(ctx, raw, true)
}

func (v *Verifier) verify(ctx context.Context, raw string, allowAccess bool) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty token", ErrVerification)
	}

	if _, err := jose.ParseSigned(raw, v.algs); err != nil {
		return nil, fmt.Errorf("%w: malformed header: %v", ErrVerification, err)
	}

	payload, err := v.keys.VerifySignature(ctx, raw)
	if err != nil {
		if v.keySetUnavailable(err) {
			return nil, fmt.Errorf("%w: %w: %v", ErrVerification, ErrKeySetUnavailable, err)
		}
		return nil, fmt.Errorf("%w: signature: %v", ErrVerification, err)
	}

	var rc rawClaims
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&rc); err != nil {
		return nil, fmt.Errorf("%w: claims: %v", ErrVerification, err)
	}

	if rc.Issuer != v.cfg.Issuer {
		return nil, fmt.Errorf("%w: issuer mismatch", ErrVerification)
	}
	if err := v.checkTimes(rc); err != nil {
		return nil, err
	}

	use := TokenUse(rc.TokenUse)
	if use == "" && v.cfg.AssumeIDTokenUse {
		use = TokenUseID
	}
	switch {
	case use == TokenUseID:
		if !rc.Audience.contains(v.cfg.Audience) {
			return nil, fmt.Errorf("%w: audience mismatch", ErrVerification)
		}
	case use == TokenUseAccess && allowAccess:
		if rc.ClientID != v.cfg.ClientID {
			return nil, fmt.Errorf("%w: client id mismatch", ErrVerification)
		}
	default:
		return nil, fmt.Errorf("%w: token_use %q not accepted", ErrVerification, rc.TokenUse)
	}

	if strings.TrimSpace(rc.Subject) == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrVerification)
	}

	var all map[string]any
	if err := json.Unmarshal(payload, &all); err != nil {
		return nil, fmt.Errorf("%w: claims: %v", ErrVerification, err)
	}

	return &Claims{
		Subject:       rc.Subject,
		Email:         strings.TrimSpace(rc.Email),
		EmailVerified: bool(rc.EmailVerified),
		PhoneNumber:   rc.PhoneNumber,
		PhoneVerified: bool(rc.PhoneVerified),
		TokenUse:      use,
		Issuer:        rc.Issuer,
		Raw:           all,
	}, nil
}

func (v *Verifier) checkTimes(rc rawClaims) error {
	now := v.now()
	if rc.Expiry == nil {
		return fmt.Errorf("%w: missing exp", ErrVerification)
	}
	exp, err := numericDate(*rc.Expiry)
	if err != nil {
		return fmt.Errorf("%w: exp: %v", ErrVerification, err)
	}
	if !now.Before(exp.Add(v.cfg.Leeway)) {
		return fmt.Errorf("%w: token expired", ErrVerification)
	}
	if rc.NotBefore != nil {
		nbf, err := numericDate(*rc.NotBefore)
		if err != nil {
			return fmt.Errorf("%w: nbf: %v", ErrVerification, err)
		}
		if now.Add(v.cfg.Leeway).Before(nbf) {
			return fmt.Errorf("%w: token not yet valid", ErrVerification)
		}
	}
	return nil
}

// go-oidc prefixes remote fetch failures with "fetching keys".
func (v *Verifier) keySetUnavailable(err error) bool {
	if errors.Is(err, ErrKeySetUnavailable) {
		return true
	}
	return v.remote && strings.HasPrefix(err.Error(), "fetching keys")
}

func numericDate(n json.Number) (time.Time, error) {
	f, err := n.Float64()
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(int64(f), 0), nil
}

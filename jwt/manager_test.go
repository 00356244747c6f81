package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

func newEdKeys(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	return pub, priv
}

func newEdManager(t *testing.T, priv ed25519.PrivateKey) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		AccessTTL:     time.Minute,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     priv.Public().(ed25519.PublicKey),
		Issuer:        "hybridauth",
		Audience:      "api",
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func TestCreateAndParseAccess(t *testing.T) {
	_, priv := newEdKeys(t)
	m := newEdManager(t, priv)

	token, exp, err := m.CreateAccess(AccessInput{AccountID: "acct-1", SessionID: "sid-1", Role: "admin", Provider: "local"})
	if err != nil {
		t.Fatalf("create access: %v", err)
	}
	if time.Until(exp) <= 0 || time.Until(exp) > time.Minute {
		t.Fatalf("unexpected expiry %v", exp)
	}

	claims, err := m.ParseAccess(token)
	if err != nil {
		t.Fatalf("parse access: %v", err)
	}
	if claims.UID != "acct-1" || claims.SID != "sid-1" || claims.Role != "admin" || claims.Provider != "local" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestParseAccessRejectsWrongAlgorithm(t *testing.T) {
	_, priv := newEdKeys(t)
	m := newEdManager(t, priv)

	claims := AccessClaims{UID: "u", SID: "s1", RegisteredClaims: gjwt.RegisteredClaims{
		Issuer:    "hybridauth",
		Audience:  gjwt.ClaimStrings{"api"},
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
	}}
	token, err := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims).SignedString([]byte("secret-secret-secret-secret-1234"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if _, err := m.ParseAccess(token); err == nil {
		t.Fatal("expected wrong algorithm to be rejected")
	}
}

func TestParseAccessRejectsIssuerAudienceAndExpiry(t *testing.T) {
	_, priv := newEdKeys(t)
	m := newEdManager(t, priv)

	sign := func(c AccessClaims) string {
		t.Helper()
		s, err := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, c).SignedString(priv)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return s
	}
	base := func() AccessClaims {
		return AccessClaims{UID: "u", SID: "s", RegisteredClaims: gjwt.RegisteredClaims{
			Issuer:    "hybridauth",
			Audience:  gjwt.ClaimStrings{"api"},
			ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
			IssuedAt:  gjwt.NewNumericDate(time.Now()),
		}}
	}

	wrongIssuer := base()
	wrongIssuer.Issuer = "other"
	wrongAudience := base()
	wrongAudience.Audience = gjwt.ClaimStrings{"other-api"}
	expired := base()
	expired.ExpiresAt = gjwt.NewNumericDate(time.Now().Add(-time.Minute))
	noExpiry := base()
	noExpiry.ExpiresAt = nil
	noSession := base()
	noSession.SID = ""

	for name, c := range map[string]AccessClaims{
		"issuer":   wrongIssuer,
		"audience": wrongAudience,
		"expired":  expired,
		"noexp":    noExpiry,
		"nosid":    noSession,
	} {
		if _, err := m.ParseAccess(sign(c)); err == nil {
			t.Fatalf("%s: expected token to be rejected", name)
		}
	}

	if _, err := m.ParseAccess(sign(base())); err != nil {
		t.Fatalf("baseline token must parse: %v", err)
	}
}

func TestVerifyKeysRotation(t *testing.T) {
	oldPub, oldPriv := newEdKeys(t)
	newPub, newPriv := newEdKeys(t)

	oldSigner, err := NewManager(Config{AccessTTL: time.Minute, SigningMethod: MethodEd25519, PrivateKey: oldPriv, PublicKey: oldPub, KeyID: "k1"})
	if err != nil {
		t.Fatalf("old signer: %v", err)
	}
	token, _, err := oldSigner.CreateAccess(AccessInput{AccountID: "a", SessionID: "s"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	verifier, err := NewManager(Config{
		AccessTTL:     time.Minute,
		SigningMethod: MethodEd25519,
		PrivateKey:    newPriv,
		KeyID:         "k2",
		VerifyKeys:    map[string][]byte{"k1": oldPub, "k2": newPub},
	})
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	if _, err := verifier.ParseAccess(token); err != nil {
		t.Fatalf("token signed with retired kid must verify: %v", err)
	}
}

func TestNewManagerValidation(t *testing.T) {
	if _, err := NewManager(Config{AccessTTL: time.Minute, SigningMethod: MethodHS256, PrivateKey: []byte("short")}); err == nil {
		t.Fatal("expected short hs256 secret to be rejected")
	}
	if _, err := NewManager(Config{AccessTTL: 0, SigningMethod: MethodHS256, PrivateKey: make([]byte, 32)}); err == nil {
		t.Fatal("expected zero TTL to be rejected")
	}
	if _, err := NewManager(Config{AccessTTL: time.Minute, SigningMethod: "rs256"}); err == nil {
		t.Fatal("expected unsupported method to be rejected")
	}
}

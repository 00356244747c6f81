package federated

import (
	"encoding/json"
	"strings"
)

// TokenUse distinguishes identity tokens from access tokens.
type TokenUse string

const (
	TokenUseID     TokenUse = "id"
	TokenUseAccess TokenUse = "access"
)

// Claims is the verified, normalized view of a provider token.
type Claims struct {
	Subject       string
	Email         string
	EmailVerified bool
	PhoneNumber   string
	PhoneVerified bool
	TokenUse      TokenUse
	Issuer        string
	Raw           map[string]any
}

// rawClaims mirrors the wire payload. Booleans arrive as JSON bools from
// most providers and as the strings "true"/"false" from others.
type rawClaims struct {
	Issuer        string       `json:"iss"`
	Subject       string       `json:"sub"`
	Audience      audience     `json:"aud"`
	ClientID      string       `json:"client_id"`
	TokenUse      string       `json:"token_use"`
	Expiry        *json.Number `json:"exp"`
	NotBefore     *json.Number `json:"nbf"`
	Email         string       `json:"email"`
	EmailVerified flexBool     `json:"email_verified"`
	PhoneNumber   string       `json:"phone_number"`
	PhoneVerified flexBool     `json:"phone_number_verified"`
}

type audience []string

func (a *audience) UnmarshalJSON(b []byte) error {
	var single string
	if err := json.Unmarshal(b, &single); err == nil {
		*a = audience{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*a = many
	return nil
}

func (a audience) contains(v string) bool {
	for _, s := range a {
		if s == v {
			return true
		}
	}
	return false
}

type flexBool bool

func (f *flexBool) UnmarshalJSON(b []byte) error {
	var asBool bool
	if err := json.Unmarshal(b, &asBool); err == nil {
		*f = flexBool(asBool)
		return nil
	}
	var asString string
	if err := json.Unmarshal(b, &asString); err != nil {
		// Unknown shapes count as unverified rather than failing the token.
		*f = false
		return nil
	}
	*f = flexBool(strings.EqualFold(strings.TrimSpace(asString), "true"))
	return nil
}

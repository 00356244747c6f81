package password

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

var (
	ErrPolicyTooShort  = errors.New("password is too short")
	ErrPolicyTooLong   = errors.New("password exceeds maximum length")
	ErrPolicyNoUpper   = errors.New("password must include an uppercase letter")
	ErrPolicyNoLower   = errors.New("password must include a lowercase letter")
	ErrPolicyNoDigit   = errors.New("password must include a digit")
	ErrPolicyNoSymbol  = errors.New("password must include a symbol")
	ErrPolicyTooCommon = errors.New("password is too common")
)

var defaultCommon = []string{
	"password",
	"password123",
	"12345678",
	"qwerty123",
	"admin123",
	"letmein",
}

// Policy describes the strength rules for new passwords. Checks run in a
// fixed order and the first failing rule is reported.
type Policy struct {
	MinLength int
	MaxBytes  int
	Common    []string
}

// DefaultPolicy requires 12 characters with upper, lower, digit and symbol
// classes, and rejects a short list of common passwords.
func DefaultPolicy() Policy {
	return Policy{
		MinLength: 12,
		MaxBytes:  1024,
		Common:    append([]string(nil), defaultCommon...),
	}
}

// Validate checks the policy configuration itself.
func (p Policy) Validate() error {
	if p.MinLength < 8 {
		return errors.New("password policy minimum length must be >= 8")
	}
	if p.MaxBytes != 0 && p.MaxBytes < p.MinLength {
		return errors.New("password policy max bytes must be >= min length")
	}
	return nil
}

// Check returns nil when pw satisfies the policy, or an error wrapping one
// of the ErrPolicy* values for the first rule that failed.
func (p Policy) Check(pw string) error {
	if utf8.RuneCountInString(pw) < p.MinLength {
		return fmt.Errorf("%w: minimum %d characters", ErrPolicyTooShort, p.MinLength)
	}
	if p.MaxBytes > 0 && len(pw) > p.MaxBytes {
		return ErrPolicyTooLong
	}

	var upper, lower, digit, symbol bool
	for _, r := range pw {
		switch {
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= '0' && r <= '9':
			digit = true
		default:
			symbol = true
		}
	}
	switch {
	case !upper:
		return ErrPolicyNoUpper
	case !lower:
		return ErrPolicyNoLower
	case !digit:
		return ErrPolicyNoDigit
	case !symbol:
		return ErrPolicyNoSymbol
	}

	lowered := strings.ToLower(pw)
	for _, c := range p.Common {
		if lowered == strings.ToLower(c) {
			return ErrPolicyTooCommon
		}
	}
	return nil
}

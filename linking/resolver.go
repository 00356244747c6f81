package linking

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/hybridAuth/account"
	"github.com/MrEthical07/hybridAuth/federated"
)

// Reason is the outcome of a resolution.
type Reason string

const (
	ReasonCreated        Reason = "created"
	ReasonLinkedBySub    Reason = "linked-by-sub"
	ReasonLinkedByEmail  Reason = "linked-by-email"
	ReasonDeniedMismatch Reason = "denied-mismatch"
	ReasonDeniedAmbig    Reason = "denied-ambiguous"
	ReasonDeniedNoAcct   Reason = "denied-no-account"
)

// Denied reports whether the reason refuses the login.
func (r Reason) Denied() bool {
	switch r {
	case ReasonDeniedMismatch, ReasonDeniedAmbig, ReasonDeniedNoAcct:
		return true
	default:
		return false
	}
}

// Decision is never persisted. Account is nil for denials.
type Decision struct {
	Account *account.Account
	Reason  Reason
	// Detail explains denials for audit logs only.
	Detail string
}

// Config controls the optional linking paths.
type Config struct {
	AllowEmailLinking bool
	AutoProvision     bool
	// RequireVerifiedEmailToProvision refuses to create accounts from
	// unverified email claims.
	RequireVerifiedEmailToProvision bool
	DefaultRole                     account.Role
}

// Resolver is safe for concurrent use when its store is.
type Resolver struct {
	store account.Store
	cfg   Config
}

// NewResolver returns a Resolver over store.
func NewResolver(store account.Store, cfg Config) *Resolver {
	if !cfg.DefaultRole.Valid() {
		cfg.DefaultRole = account.RoleUser
	}
	return &Resolver{store: store, cfg: cfg}
}

// Resolve returns the decision for claims. A non-nil error means the store
// failed and no decision was reached.
func (r *Resolver) Resolve(ctx context.Context, claims *federated.Claims) (Decision, error) {
	if claims == nil || claims.Subject == "" {
		return Decision{Reason: ReasonDeniedNoAcct, Detail: "missing subject"}, nil
	}

	bySub, err := r.store.GetByFederatedSubject(ctx, claims.Subject)
	switch {
	case err == nil:
		return linked(bySub, ReasonLinkedBySub), nil
	case !errors.Is(err, account.ErrNotFound):
		return Decision{}, fmt.Errorf("lookup by subject: %w", err)
	}

	email := account.NormalizeEmail(claims.Email)
	if email != "" {
		byEmail, err := r.store.GetByEmail(ctx, email)
		switch {
		case err == nil:
			return r.resolveEmailMatch(ctx, claims, byEmail)
		case !errors.Is(err, account.ErrNotFound):
			return Decision{}, fmt.Errorf("lookup by email: %w", err)
		}
	}

	if !r.cfg.AutoProvision || email == "" {
		return Decision{Reason: ReasonDeniedNoAcct, Detail: "no matching account"}, nil
	}
	if r.cfg.RequireVerifiedEmailToProvision && !claims.EmailVerified {
		return Decision{Reason: ReasonDeniedNoAcct, Detail: "email not verified"}, nil
	}
	return r.provision(ctx, claims, email)
}

func (r *Resolver) resolveEmailMatch(ctx context.Context, claims *federated.Claims, acct account.Account) (Decision, error) {
	if acct.FederatedSubject == claims.Subject {
		return linked(acct, ReasonLinkedBySub), nil
	}
	if acct.FederatedSubject != "" {
		// Bound to a different subject: never switch.
		return Decision{Reason: ReasonDeniedMismatch, Detail: "email bound to another subject"}, nil
	}
	if !r.cfg.AllowEmailLinking {
		return Decision{Reason: ReasonDeniedAmbig, Detail: "email linking disabled"}, nil
	}
	if !claims.EmailVerified {
		return Decision{Reason: ReasonDeniedAmbig, Detail: "email not verified"}, nil
	}

	provider := account.ProviderFederated
	if acct.PasswordHash != "" {
		provider = account.ProviderHybrid
	}

	err := r.store.BindFederatedSubject(ctx, acct.ID, claims.Subject, provider)
	switch {
	case err == nil:
		bound, err := r.store.GetByID(ctx, acct.ID)
		if err != nil {
			return Decision{}, fmt.Errorf("reload after bind: %w", err)
		}
		return linked(bound, ReasonLinkedByEmail), nil
	case errors.Is(err, account.ErrSubjectAlreadySet), errors.Is(err, account.ErrSubjectTaken):
		return r.afterLostRace(ctx, claims.Subject)
	default:
		return Decision{}, fmt.Errorf("bind subject: %w", err)
	}
}

func (r *Resolver) provision(ctx context.Context, claims *federated.Claims, email string) (Decision, error) {
	created, err := r.store.Create(ctx, account.Account{
		Email:            email,
		Role:             r.cfg.DefaultRole,
		Active:           true,
		Provider:         account.ProviderFederated,
		FederatedSubject: claims.Subject,
		EmailVerified:    claims.EmailVerified,
		PhoneNumber:      claims.PhoneNumber,
		PhoneVerified:    claims.PhoneVerified,
	})
	switch {
	case err == nil:
		return linked(created, ReasonCreated), nil
	case errors.Is(err, account.ErrSubjectTaken):
		return r.afterLostRace(ctx, claims.Subject)
	case errors.Is(err, account.ErrEmailTaken):
		return Decision{Reason: ReasonDeniedMismatch, Detail: "email claimed concurrently"}, nil
	default:
		return Decision{}, fmt.Errorf("provision account: %w", err)
	}
}

// afterLostRace re-reads by subject once a concurrent writer won.
func (r *Resolver) afterLostRace(ctx context.Context, subject string) (Decision, error) {
	acct, err := r.store.GetByFederatedSubject(ctx, subject)
	switch {
	case err == nil:
		return linked(acct, ReasonLinkedBySub), nil
	case errors.Is(err, account.ErrNotFound):
		return Decision{Reason: ReasonDeniedMismatch, Detail: "account bound concurrently to another subject"}, nil
	default:
		return Decision{}, fmt.Errorf("reload after race: %w", err)
	}
}

func linked(acct account.Account, reason Reason) Decision {
	return Decision{Account: &acct, Reason: reason}
}

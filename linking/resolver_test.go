package linking

import (
	"context"
	"sync"
	"testing"

	"github.com/MrEthical07/hybridAuth/account"
	"github.com/MrEthical07/hybridAuth/federated"
)

func seed(t *testing.T, store *account.MemoryStore, a account.Account) account.Account {
	t.Helper()
	created, err := store.Create(context.Background(), a)
	if err != nil {
		t.Fatalf("seed account: %v", err)
	}
	return created
}

func TestLinkBySubject(t *testing.T) {
	store := account.NewMemoryStore()
	acct := seed(t, store, account.Account{Email: "a@example.com", Active: true, Provider: account.ProviderFederated, FederatedSubject: "sub-1"})

	r := NewResolver(store, Config{AllowEmailLinking: true})
	d, err := r.Resolve(context.Background(), &federated.Claims{Subject: "sub-1", Email: "other@example.com"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if d.Reason != ReasonLinkedBySub || d.Account.ID != acct.ID {
		t.Fatalf("unexpected decision %+v", d)
	}
}

func TestLinkByVerifiedEmailThenBySubject(t *testing.T) {
	store := account.NewMemoryStore()
	acct := seed(t, store, account.Account{Email: "bob@example.com", PasswordHash: "$argon2id$x", Active: true, Provider: account.ProviderLocal})

	r := NewResolver(store, Config{AllowEmailLinking: true})
	claims := &federated.Claims{Subject: "sub-bob", Email: "Bob@Example.com", EmailVerified: true}

	d, err := r.Resolve(context.Background(), claims)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if d.Reason != ReasonLinkedByEmail || d.Account.ID != acct.ID {
		t.Fatalf("unexpected decision %+v", d)
	}
	if d.Account.Provider != account.ProviderHybrid || d.Account.FederatedSubject != "sub-bob" || !d.Account.EmailVerified {
		t.Fatalf("account not bound as hybrid: %+v", d.Account)
	}

	d, err = r.Resolve(context.Background(), claims)
	if err != nil || d.Reason != ReasonLinkedBySub {
		t.Fatalf("second login should link by subject: %+v, %v", d, err)
	}
}

func TestEmailLinkWithoutPasswordBecomesFederated(t *testing.T) {
	store := account.NewMemoryStore()
	seed(t, store, account.Account{Email: "c@example.com", Active: true, Provider: account.ProviderLocal})

	r := NewResolver(store, Config{AllowEmailLinking: true})
	d, err := r.Resolve(context.Background(), &federated.Claims{Subject: "s", Email: "c@example.com", EmailVerified: true})
	if err != nil || d.Reason != ReasonLinkedByEmail {
		t.Fatalf("unexpected decision %+v, %v", d, err)
	}
	if d.Account.Provider != account.ProviderFederated {
		t.Fatalf("expected federated provider, got %s", d.Account.Provider)
	}
}

func TestSubjectMismatchNeverSwitches(t *testing.T) {
	store := account.NewMemoryStore()
	acct := seed(t, store, account.Account{Email: "d@example.com", Active: true, Provider: account.ProviderFederated, FederatedSubject: "original"})

	r := NewResolver(store, Config{AllowEmailLinking: true, AutoProvision: true})
	d, err := r.Resolve(context.Background(), &federated.Claims{Subject: "attacker", Email: "d@example.com", EmailVerified: true})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if d.Reason != ReasonDeniedMismatch || d.Account != nil || !d.Reason.Denied() {
		t.Fatalf("expected denied-mismatch, got %+v", d)
	}

	stored, _ := store.GetByID(context.Background(), acct.ID)
	if stored.FederatedSubject != "original" {
		t.Fatalf("subject must not change, got %q", stored.FederatedSubject)
	}
}

func TestAmbiguousEmail(t *testing.T) {
	store := account.NewMemoryStore()
	seed(t, store, account.Account{Email: "e@example.com", Active: true, Provider: account.ProviderLocal})

	unverified := &federated.Claims{Subject: "s", Email: "e@example.com", EmailVerified: false}
	d, err := NewResolver(store, Config{AllowEmailLinking: true, AutoProvision: true}).Resolve(context.Background(), unverified)
	if err != nil || d.Reason != ReasonDeniedAmbig {
		t.Fatalf("unverified email: %+v, %v", d, err)
	}

	verified := &federated.Claims{Subject: "s", Email: "e@example.com", EmailVerified: true}
	d, err = NewResolver(store, Config{AllowEmailLinking: false, AutoProvision: true}).Resolve(context.Background(), verified)
	if err != nil || d.Reason != ReasonDeniedAmbig {
		t.Fatalf("linking disabled: %+v, %v", d, err)
	}

	if _, err := store.GetByFederatedSubject(context.Background(), "s"); err == nil {
		t.Fatal("no account may be bound on ambiguous resolution")
	}
}

func TestProvisioning(t *testing.T) {
	store := account.NewMemoryStore()

	d, err := NewResolver(store, Config{}).Resolve(context.Background(), &federated.Claims{Subject: "s1", Email: "f@example.com"})
	if err != nil || d.Reason != ReasonDeniedNoAcct {
		t.Fatalf("provisioning disabled: %+v, %v", d, err)
	}

	r := NewResolver(store, Config{AutoProvision: true, DefaultRole: account.RoleViewer})
	if d, _ := r.Resolve(context.Background(), &federated.Claims{Subject: "s0"}); d.Reason != ReasonDeniedNoAcct {
		t.Fatalf("provisioning without email must be denied, got %+v", d)
	}

	d, err = r.Resolve(context.Background(), &federated.Claims{Subject: "s1", Email: "f@example.com", PhoneNumber: "+1555"})
	if err != nil || d.Reason != ReasonCreated {
		t.Fatalf("expected created, got %+v, %v", d, err)
	}
	got := d.Account
	if got.Provider != account.ProviderFederated || got.Role != account.RoleViewer || got.PasswordHash != "" || got.EmailVerified || !got.Active {
		t.Fatalf("unexpected provisioned account %+v", got)
	}

	strict := NewResolver(store, Config{AutoProvision: true, RequireVerifiedEmailToProvision: true})
	if d, _ := strict.Resolve(context.Background(), &federated.Claims{Subject: "s2", Email: "g@example.com"}); d.Reason != ReasonDeniedNoAcct {
		t.Fatalf("unverified provision must be denied when required, got %+v", d)
	}
}

// raceStore lets another writer bind the subject between the resolver's
// read and its conditional bind.
type raceStore struct {
	*account.MemoryStore
	onBind func()
}

func (s *raceStore) BindFederatedSubject(ctx context.Context, id, subject string, provider account.Provider) error {
	if s.onBind != nil {
		hook := s.onBind
		s.onBind = nil
		hook()
	}
	return s.MemoryStore.BindFederatedSubject(ctx, id, subject, provider)
}

func TestLostBindRaceSameSubject(t *testing.T) {
	mem := account.NewMemoryStore()
	acct := seed(t, mem, account.Account{Email: "h@example.com", Active: true, Provider: account.ProviderLocal})
	store := &raceStore{MemoryStore: mem}
	store.onBind = func() {
		_ = mem.BindFederatedSubject(context.Background(), acct.ID, "sub-h", account.ProviderFederated)
	}

	d, err := NewResolver(store, Config{AllowEmailLinking: true}).Resolve(context.Background(),
		&federated.Claims{Subject: "sub-h", Email: "h@example.com", EmailVerified: true})
	if err != nil || d.Reason != ReasonLinkedBySub || d.Account.ID != acct.ID {
		t.Fatalf("expected linked-by-sub after lost race, got %+v, %v", d, err)
	}
}

func TestLostBindRaceOtherSubject(t *testing.T) {
	mem := account.NewMemoryStore()
	acct := seed(t, mem, account.Account{Email: "i@example.com", Active: true, Provider: account.ProviderLocal})
	store := &raceStore{MemoryStore: mem}
	store.onBind = func() {
		_ = mem.BindFederatedSubject(context.Background(), acct.ID, "sub-other", account.ProviderFederated)
	}

	d, err := NewResolver(store, Config{AllowEmailLinking: true}).Resolve(context.Background(),
		&federated.Claims{Subject: "sub-i", Email: "i@example.com", EmailVerified: true})
	if err != nil || d.Reason != ReasonDeniedMismatch {
		t.Fatalf("expected denied-mismatch after lost race, got %+v, %v", d, err)
	}
}

func TestConcurrentProvisionSingleAccount(t *testing.T) {
	store := account.NewMemoryStore()
	r := NewResolver(store, Config{AutoProvision: true})
	claims := &federated.Claims{Subject: "sub-j", Email: "j@example.com", EmailVerified: true}

	const workers = 16
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = map[string]struct{}{}
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := r.Resolve(context.Background(), claims)
			if err != nil || d.Account == nil {
				return
			}
			mu.Lock()
			ids[d.Account.ID] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(ids) != 1 {
		t.Fatalf("expected exactly one account for the subject, got %d", len(ids))
	}
}

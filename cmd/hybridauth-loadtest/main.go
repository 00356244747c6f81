// Command hybridauth-loadtest measures Authorize and Refresh throughput of an
// in-process engine against Redis (or miniredis when no address is given).
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"flag"
	"fmt"
	mrand "math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	hybridAuth "github.com/MrEthical07/hybridAuth"
	"github.com/MrEthical07/hybridAuth/account"
	"github.com/MrEthical07/hybridAuth/password"
)

const loadPassword = "Load-Test-Pass-01!"

type sessionState struct {
	access  string
	refresh string
	mu      sync.Mutex
}

func main() {
	var (
		sessions    = flag.Int("sessions", 500, "number of accounts to log in")
		concurrency = flag.Int("concurrency", 64, "number of concurrent workers")
		ops         = flag.Int("ops", 50000, "operations per phase (authorize + refresh)")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "has-load", "session key prefix")
	)
	flag.Parse()

	if *sessions <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "sessions, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var cleanup func()
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		cleanup = mr.Close
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		cleanup = func() {}
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	defer client.Close()

	engine, accounts, err := buildEngine(client, *prefix)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	states, err := seed(ctx, engine, accounts, *sessions)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed: %v\n", err)
		os.Exit(1)
	}

	authorizeStats := runPhase(*ops, *concurrency, 7919, func(r *mrand.Rand, _ int) error {
		s := &states[r.Intn(len(states))]
		s.mu.Lock()
		token := s.access
		s.mu.Unlock()
		_, err := engine.Authorize(ctx, token, account.RoleUser)
		return err
	})

	refreshStats := runPhase(*ops, *concurrency, 6151, func(r *mrand.Rand, _ int) error {
		s := &states[r.Intn(len(states))]
		s.mu.Lock()
		defer s.mu.Unlock()
		pair, err := engine.Refresh(ctx, s.refresh)
		if err != nil {
			return err
		}
		s.access = pair.AccessToken
		if pair.RefreshToken != "" {
			s.refresh = pair.RefreshToken
		}
		return nil
	})

	fmt.Println("---- results ----")
	printStats("authorize", authorizeStats)
	printStats("refresh", refreshStats)

	snap := engine.MetricsSnapshot()
	fmt.Printf("engine: authorize_allowed=%d refresh_success=%d refresh_failure=%d audit_dropped=%d\n",
		snap.Counters[hybridAuth.MetricAuthorizeAllowed],
		snap.Counters[hybridAuth.MetricRefreshSuccess],
		snap.Counters[hybridAuth.MetricRefreshFailure],
		engine.AuditDropped(),
	)
}

func buildEngine(client redis.UniversalClient, prefix string) (*hybridAuth.Engine, *account.MemoryStore, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}

	cfg := hybridAuth.DefaultConfig()
	cfg.Mode = hybridAuth.ModeLocal
	cfg.JWT.PrivateKey = priv
	cfg.JWT.PublicKey = pub
	cfg.Session.RedisPrefix = prefix
	// Login cost is not what is being measured.
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Audit.Enabled = false

	accounts := account.NewMemoryStore()
	engine, err := hybridAuth.New().
		WithConfig(cfg).
		WithRedis(client).
		WithAccountStore(accounts).
		Build()
	if err != nil {
		return nil, nil, err
	}
	return engine, accounts, nil
}

func seed(ctx context.Context, engine *hybridAuth.Engine, accounts *account.MemoryStore, n int) ([]sessionState, error) {
	h, err := password.NewHasher(password.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	if err != nil {
		return nil, err
	}
	hash, err := h.Hash(loadPassword)
	if err != nil {
		return nil, err
	}

	fmt.Printf("seeding %d sessions...\n", n)
	start := time.Now()
	states := make([]sessionState, n)
	for i := 0; i < n; i++ {
		email := fmt.Sprintf("load-%d@example.com", i)
		if _, err := accounts.Create(ctx, account.Account{
			Email:         email,
			PasswordHash:  hash,
			Role:          account.RoleUser,
			Active:        true,
			Provider:      account.ProviderLocal,
			EmailVerified: true,
		}); err != nil {
			return nil, err
		}
		res, err := engine.Login(ctx, email, loadPassword)
		if err != nil {
			return nil, fmt.Errorf("login %s: %w", email, err)
		}
		states[i].access = res.Tokens.AccessToken
		states[i].refresh = res.Tokens.RefreshToken
	}
	fmt.Printf("seeded in %s\n", time.Since(start).Round(time.Millisecond))
	return states, nil
}

func runPhase(ops, concurrency int, seedMul int64, op func(r *mrand.Rand, i int) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := mrand.New(mrand.NewSource(time.Now().UnixNano() + int64(worker)*seedMul))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := op(r, i)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}

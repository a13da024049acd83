// Command tgauth-loadtest drives an in-process Engine with many concurrent
// Validate and Refresh calls and prints latency percentiles.
package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/medmarket/tgauth"
	"github.com/medmarket/tgauth/storage/memory"
	"github.com/medmarket/tgauth/telegram"
)

const botToken = "123456:loadtest-bot-token"

type options struct {
	users       int
	concurrency int
	ops         int
	redisAddr   string
}

// account is one signed-in user; refresh replaces its pair under mu.
type account struct {
	mu     sync.Mutex
	tokens tgauth.TokenPair
}

func main() {
	var o options

	cmd := &cobra.Command{
		Use:           "tgauth-loadtest",
		Short:         "Benchmark Validate and Refresh against an in-process engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if o.users <= 0 || o.concurrency <= 0 || o.ops <= 0 {
				return errors.New("users, concurrency and ops must be > 0")
			}
			return run(cmd.Context(), o)
		},
	}
	cmd.Flags().IntVar(&o.users, "users", 10000, "number of Telegram users to sign in")
	cmd.Flags().IntVar(&o.concurrency, "concurrency", 256, "number of concurrent workers")
	cmd.Flags().IntVar(&o.ops, "ops", 200000, "operations per phase")
	cmd.Flags().StringVar(&o.redisAddr, "redis-addr", os.Getenv("REDIS_ADDR"), "redis address; miniredis when empty")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "tgauth-loadtest: %s\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, o options) error {
	addr := o.redisAddr
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return fmt.Errorf("start miniredis: %w", err)
		}
		defer mr.Close()
		addr = mr.Addr()
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		fmt.Printf("using redis at %s\n", addr)
	}
	rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	defer rdb.Close()

	cfg := tgauth.DefaultConfig()
	cfg.Telegram.BotToken = botToken
	cfg.JWT.Secrets = map[tgauth.Role][]byte{
		tgauth.RoleCustomer: []byte("loadtest-customer-secret-0123456789"),
	}
	// The limiter would reject most of a synthetic burst from one address.
	cfg.RateLimit.Enabled = false

	engine, err := tgauth.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserProvider(memory.New()).
		Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	fmt.Printf("signing in %d users...\n", o.users)
	start := time.Now()
	accounts := make([]account, o.users)
	for i := range accounts {
		res, err := engine.LoginTelegram(ctx, signedFields(int64(i+1)))
		if err != nil {
			return fmt.Errorf("login %d: %w", i+1, err)
		}
		accounts[i].tokens = res.Tokens
	}
	fmt.Printf("signed in in %s\n", time.Since(start).Round(time.Millisecond))

	validate := runPhase(o, func(r *rand.Rand) error {
		a := &accounts[r.IntN(len(accounts))]
		a.mu.Lock()
		tok := a.tokens.AccessToken
		a.mu.Unlock()
		_, err := engine.Validate(ctx, tok)
		return err
	})
	refresh := runPhase(o, func(r *rand.Rand) error {
		a := &accounts[r.IntN(len(accounts))]
		a.mu.Lock()
		defer a.mu.Unlock()
		pair, err := engine.Refresh(ctx, a.tokens.RefreshToken)
		if err == nil {
			a.tokens = pair
		}
		return err
	})

	fmt.Println("---- results ----")
	printStats("validate", validate)
	printStats("refresh", refresh)

	snap := engine.MetricsSnapshot()
	fmt.Printf("metrics: validate_success=%d refresh_success=%d refresh_failure=%d\n",
		snap.Counters[tgauth.MetricValidateSuccess],
		snap.Counters[tgauth.MetricRefreshSuccess],
		snap.Counters[tgauth.MetricRefreshFailure],
	)
	return nil
}

func signedFields(id int64) map[string]string {
	fields := map[string]string{
		"user":      `{"id":` + strconv.FormatInt(id, 10) + `,"first_name":"Load"}`,
		"auth_date": strconv.FormatInt(time.Now().Unix(), 10),
	}
	fields["hash"] = telegram.Sign(fields, botToken, telegram.SchemeWebApp)
	return fields
}

func runPhase(o options, op func(*rand.Rand) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, o.ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < o.concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(worker)))
			for {
				if int(atomic.AddInt64(&cursor, 1)) > o.ops {
					return
				}
				t0 := time.Now()
				err := op(r)
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

// percentile expects sorted samples.
func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	if p <= 0 {
		return samples[0]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name, s.ops, s.failures,
		s.total.Round(time.Millisecond), s.opsPerS,
		s.p50.Round(time.Microsecond), s.p95.Round(time.Microsecond), s.p99.Round(time.Microsecond),
	)
}

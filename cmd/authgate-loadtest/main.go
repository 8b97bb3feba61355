// Command authgate-loadtest races concurrent validations of the same
// single-use tokens and checks that each one is consumed at most once.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/authgate/token"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type outcomeCounts struct {
	consumed    int64
	alreadyUsed int64
	contention  int64
	other       int64
}

func main() {
	var (
		tokens    = flag.Int("tokens", 2000, "number of tokens to issue")
		racers    = flag.Int("racers", 8, "concurrent validations per token")
		workers   = flag.Int("concurrency", 64, "number of tokens raced at once")
		redisAddr = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix    = flag.String("prefix", "agt-load", "token key prefix")
		kindFlag  = flag.String("kind", string(token.KindEmailVerification), "token kind: email-verification or password-reset")
	)
	flag.Parse()

	if *tokens <= 0 || *racers <= 1 || *workers <= 0 {
		fmt.Fprintln(os.Stderr, "tokens and concurrency must be > 0, racers must be > 1")
		os.Exit(2)
	}
	kind := token.Kind(*kindFlag)
	if kind != token.KindEmailVerification && kind != token.KindPasswordReset {
		fmt.Fprintf(os.Stderr, "unknown kind %q\n", *kindFlag)
		os.Exit(2)
	}

	ctx := context.Background()
	client, cleanup, err := connect(*redisAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "redis: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	cfg := token.DefaultConfig()
	cfg.Prefix = *prefix
	cfg.Retention = time.Hour
	manager := token.NewManager(client, cfg, nil)

	type issued struct {
		account string
		value   string
	}
	pending := make([]issued, *tokens)
	fmt.Printf("issuing %d %s tokens...\n", *tokens, kind)
	startIssue := time.Now()
	for i := range pending {
		account := fmt.Sprintf("load-%d", i)
		p, err := manager.Issue(ctx, account, kind, time.Hour)
		if err != nil {
			fmt.Fprintf(os.Stderr, "issue failed: %v\n", err)
			os.Exit(1)
		}
		pending[i] = issued{account: account, value: p.Value}
	}
	fmt.Printf("issued in %s\n", time.Since(startIssue).Round(time.Millisecond))

	samples := *tokens * *racers
	var (
		counts     outcomeCounts
		violations int64
		cursor     int64
		wg         sync.WaitGroup
		mu         sync.Mutex
		latencies  = make([]time.Duration, 0, samples)
	)

	start := time.Now()
	for w := 0; w < *workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= len(pending) {
					return
				}
				tok := pending[i]

				var (
					race    sync.WaitGroup
					winners int64
					gate    = make(chan struct{})
				)
				for r := 0; r < *racers; r++ {
					race.Add(1)
					go func() {
						defer race.Done()
						<-gate
						t0 := time.Now()
						_, err := manager.Validate(ctx, tok.account, kind, tok.value)
						d := time.Since(t0)

						switch {
						case err == nil:
							atomic.AddInt64(&winners, 1)
							atomic.AddInt64(&counts.consumed, 1)
						case errors.Is(err, token.ErrAlreadyUsed):
							atomic.AddInt64(&counts.alreadyUsed, 1)
						case errors.Is(err, token.ErrUnavailable):
							atomic.AddInt64(&counts.contention, 1)
						default:
							atomic.AddInt64(&counts.other, 1)
						}
						mu.Lock()
						latencies = append(latencies, d)
						mu.Unlock()
					}()
				}
				close(gate)
				race.Wait()

				if winners > 1 {
					atomic.AddInt64(&violations, 1)
				}
			}
		}()
	}
	wg.Wait()
	total := time.Since(start)

	stats := computeStats(total, latencies)
	fmt.Println("---- results ----")
	fmt.Printf("validate: ops=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		stats.ops,
		stats.total.Round(time.Millisecond),
		stats.opsPerS,
		stats.p50.Round(time.Microsecond),
		stats.p95.Round(time.Microsecond),
		stats.p99.Round(time.Microsecond),
	)
	fmt.Printf("outcomes: consumed=%d already_used=%d contention=%d other=%d\n",
		counts.consumed, counts.alreadyUsed, counts.contention, counts.other)
	fmt.Printf("double consumption: %d\n", violations)

	if violations > 0 || counts.other > 0 {
		os.Exit(1)
	}
}

func connect(addr string) (redis.UniversalClient, func(), error) {
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		fmt.Printf("using redis at %s\n", addr)
		return client, func() { _ = client.Close() }, nil
	}

	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, fmt.Errorf("start miniredis: %w", err)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	fmt.Printf("using miniredis at %s\n", mr.Addr())
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}

type phaseStats struct {
	total   time.Duration
	ops     int
	p50     time.Duration
	p95     time.Duration
	p99     time.Duration
	opsPerS float64
}

func computeStats(total time.Duration, samples []time.Duration) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:   total,
		ops:     len(samples),
		p50:     percentile(samples, 50),
		p95:     percentile(samples, 95),
		p99:     percentile(samples, 99),
		opsPerS: float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

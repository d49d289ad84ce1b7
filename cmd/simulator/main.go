package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ivansuy/finalsecurityandaudit/internal/logger"
)

// The simulator generates waves of successful and failed login attempts
// against POST /api/auth/login to exercise the backoff and anomaly
// detection logic.

type options struct {
	baseURL     string
	total       int
	concurrency int
	successRate float64
	username    string
	password    string
	sourceIPs   int
	attack      bool
	attackIP    string
	seed        int64
}

type counters struct {
	ok           int64
	unauthorized int64
	blocked      int64
	failed       int64
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var opts options
	flag.StringVar(&opts.baseURL, "base-url", "http://localhost:8080", "backend base URL")
	flag.IntVar(&opts.total, "total", 200, "total login attempts")
	flag.IntVar(&opts.concurrency, "concurrency", 8, "concurrent workers")
	flag.Float64Var(&opts.successRate, "success-rate", 0.3, "fraction of attempts using valid credentials")
	flag.StringVar(&opts.username, "username", "admin", "valid username")
	flag.StringVar(&opts.password, "password", "admin", "valid password")
	flag.IntVar(&opts.sourceIPs, "source-ips", 12, "number of spoofed source addresses")
	flag.BoolVar(&opts.attack, "attack", false, "add a brute-force burst from a single address")
	flag.StringVar(&opts.attackIP, "attack-ip", "203.0.113.66", "address used for the attack burst")
	flag.Int64Var(&opts.seed, "seed", 0, "random seed (0 = time-based)")
	logLevel := flag.String("log-level", "info", "log level")
	flag.Parse()

	logger.Setup(*logLevel, "development")
	logger.Info("Starting login traffic simulator")

	seed := opts.seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	attempts := buildAttempts(&opts, rng)
	logger.Infof("Dispatching %d attempts with %d workers", len(attempts), opts.concurrency)

	var stats counters
	start := time.Now()
	dispatch(&opts, attempts, &stats)

	logger.Infof("Done in %s: ok=%d unauthorized=%d blocked=%d transport_errors=%d",
		time.Since(start).Round(time.Millisecond),
		atomic.LoadInt64(&stats.ok),
		atomic.LoadInt64(&stats.unauthorized),
		atomic.LoadInt64(&stats.blocked),
		atomic.LoadInt64(&stats.failed))
	return nil
}

type attempt struct {
	username string
	password string
	ip       string
}

func buildAttempts(opts *options, rng *rand.Rand) []attempt {
	ips := make([]string, opts.sourceIPs)
	for i := range ips {
		ips[i] = fmt.Sprintf("198.51.100.%d", i+1)
	}

	attempts := make([]attempt, 0, opts.total)
	for i := 0; i < opts.total; i++ {
		a := attempt{ip: ips[rng.Intn(len(ips))]}
		if rng.Float64() < opts.successRate {
			a.username = opts.username
			a.password = opts.password
		} else {
			a.username = fmt.Sprintf("user%d", rng.Intn(40))
			a.password = "wrong-password"
		}
		attempts = append(attempts, a)
	}

	if opts.attack {
		// A tight burst of failures from one address, the classic
		// credential-stuffing signature the detector should flag
		for i := 0; i < 60; i++ {
			attempts = append(attempts, attempt{
				username: opts.username,
				password: fmt.Sprintf("guess-%d", i),
				ip:       opts.attackIP,
			})
		}
	}

	rng.Shuffle(len(attempts), func(i, j int) {
		attempts[i], attempts[j] = attempts[j], attempts[i]
	})
	return attempts
}

func dispatch(opts *options, attempts []attempt, stats *counters) {
	client := &http.Client{Timeout: 15 * time.Second}
	work := make(chan attempt)

	var wg sync.WaitGroup
	for i := 0; i < opts.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for a := range work {
				send(client, opts.baseURL, a, stats)
			}
		}()
	}

	for _, a := range attempts {
		work <- a
	}
	close(work)
	wg.Wait()
}

func send(client *http.Client, baseURL string, a attempt, stats *counters) {
	body, _ := json.Marshal(map[string]string{
		"username": a.username,
		"password": a.password,
	})

	req, err := http.NewRequest(http.MethodPost, baseURL+"/api/auth/login", bytes.NewReader(body))
	if err != nil {
		atomic.AddInt64(&stats.failed, 1)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", a.ip)

	resp, err := client.Do(req)
	if err != nil {
		atomic.AddInt64(&stats.failed, 1)
		logger.Warnf("Request failed: %v", err)
		return
	}
	resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		atomic.AddInt64(&stats.ok, 1)
	case http.StatusUnauthorized:
		atomic.AddInt64(&stats.unauthorized, 1)
	case http.StatusTooManyRequests:
		atomic.AddInt64(&stats.blocked, 1)
	default:
		atomic.AddInt64(&stats.failed, 1)
	}
}

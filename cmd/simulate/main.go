package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"

	"github.com/slotsaarthi/opd-token-engine/internal/db"
	"github.com/slotsaarthi/opd-token-engine/internal/queue"
)

// simulate drives concurrent booking, cancellation, and queue-read traffic
// against a running api-server and then verifies from the store that no
// slot was over-admitted beyond capacity plus its emergency overflow.

type simConfig struct {
	apiBaseURL  string
	duration    time.Duration
	workers     int
	bookRatio   float64
	cancelRatio float64
	postgresDSN string
}

func loadSimConfig() simConfig {
	cfg := simConfig{
		apiBaseURL:  envOr("SIM_API_URL", "http://127.0.0.1:8080"),
		duration:    30 * time.Second,
		workers:     20,
		bookRatio:   0.5,
		cancelRatio: 0.15,
		postgresDSN: os.Getenv("POSTGRES_DSN"),
	}
	if v := os.Getenv("SIM_DURATION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.duration = d
		}
	}
	if v := os.Getenv("SIM_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.workers = n
		}
	}
	return cfg
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

type tokenPool struct {
	mu     sync.RWMutex
	tokens []string
}

func (p *tokenPool) add(id string) {
	p.mu.Lock()
	p.tokens = append(p.tokens, id)
	p.mu.Unlock()
}

func (p *tokenPool) random() (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.tokens) == 0 {
		return "", false
	}
	return p.tokens[rand.Intn(len(p.tokens))], true
}

type opMetrics struct {
	total     int64
	success   int64
	conflict  int64
	failure   int64
	mu        sync.Mutex
	latencies []time.Duration
}

func (m *opMetrics) record(latency time.Duration, status int) {
	atomic.AddInt64(&m.total, 1)
	switch {
	case status >= 200 && status < 300:
		atomic.AddInt64(&m.success, 1)
	case status == http.StatusConflict:
		atomic.AddInt64(&m.conflict, 1)
	default:
		atomic.AddInt64(&m.failure, 1)
	}

	m.mu.Lock()
	m.latencies = append(m.latencies, latency)
	m.mu.Unlock()
}

func (m *opMetrics) report(name string) {
	m.mu.Lock()
	latencies := make([]time.Duration, len(m.latencies))
	copy(latencies, m.latencies)
	m.mu.Unlock()

	if len(latencies) == 0 {
		log.Printf("%-10s no operations recorded", name)
		return
	}

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	pct := func(p int) time.Duration {
		idx := len(latencies) * p / 100
		if idx >= len(latencies) {
			idx = len(latencies) - 1
		}
		return latencies[idx]
	}

	log.Printf("%-10s total=%d success=%d conflict=%d failure=%d avg=%s p50=%s p95=%s max=%s",
		name,
		atomic.LoadInt64(&m.total),
		atomic.LoadInt64(&m.success),
		atomic.LoadInt64(&m.conflict),
		atomic.LoadInt64(&m.failure),
		sum/time.Duration(len(latencies)),
		pct(50),
		pct(95),
		latencies[len(latencies)-1],
	)
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulate starting")

	cfg := loadSimConfig()
	gofakeit.Seed(time.Now().UnixNano())

	doctors, err := fetchDoctors(cfg.apiBaseURL)
	if err != nil {
		log.Fatalf("fetch doctors: %v", err)
	}
	if len(doctors) == 0 {
		log.Fatal("no doctors available, run cmd/seed first")
	}
	log.Printf("loaded %d doctors, running %d workers for %s", len(doctors), cfg.workers, cfg.duration)

	var (
		pool    tokenPool
		booking opMetrics
		cancels opMetrics
		reads   opMetrics
	)

	categories := []queue.Category{
		queue.CategoryEmergency,
		queue.CategoryPaid,
		queue.CategoryOnline,
		queue.CategoryWalkIn,
		queue.CategoryFollowUp,
	}

	client := &http.Client{Timeout: 10 * time.Second}
	deadline := time.Now().Add(cfg.duration)

	var wg sync.WaitGroup
	for w := 0; w < cfg.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(deadline) {
				doctor := doctors[rand.Intn(len(doctors))]
				roll := rand.Float64()
				switch {
				case roll < cfg.bookRatio:
					runBooking(client, cfg.apiBaseURL, doctor, categories, &pool, &booking)
				case roll < cfg.bookRatio+cfg.cancelRatio:
					runCancel(client, cfg.apiBaseURL, &pool, &cancels)
				default:
					runQueueRead(client, cfg.apiBaseURL, doctor, &reads)
				}
			}
		}()
	}
	wg.Wait()

	log.Println("simulation finished")
	booking.report("booking")
	cancels.report("cancel")
	reads.report("queue-read")

	if cfg.postgresDSN != "" {
		if err := verifyCapacity(cfg.postgresDSN); err != nil {
			log.Fatalf("capacity verification FAILED: %v", err)
		}
		log.Println("capacity verification passed: no slot over-admitted")
	}
}

type doctorInfo struct {
	ID string `json:"id"`
}

func fetchDoctors(baseURL string) ([]doctorInfo, error) {
	resp, err := http.Get(baseURL + "/api/doctors")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
	}

	var doctors []doctorInfo
	if err := json.NewDecoder(resp.Body).Decode(&doctors); err != nil {
		return nil, err
	}
	return doctors, nil
}

func runBooking(client *http.Client, baseURL string, doctor doctorInfo, categories []queue.Category, pool *tokenPool, m *opMetrics) {
	payload := map[string]string{
		"doctor_id":    doctor.ID,
		"patient_name": gofakeit.Name(),
		"patient_type": string(categories[rand.Intn(len(categories))]),
	}
	body, _ := json.Marshal(payload)

	start := time.Now()
	resp, err := client.Post(baseURL+"/api/tokens", "application/json", bytes.NewReader(body))
	latency := time.Since(start)
	if err != nil {
		m.record(latency, 0)
		return
	}
	defer resp.Body.Close()

	m.record(latency, resp.StatusCode)

	if resp.StatusCode == http.StatusCreated {
		var created struct {
			TokenID string `json:"token_id"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&created); err == nil && created.TokenID != "" {
			pool.add(created.TokenID)
		}
	}
}

func runCancel(client *http.Client, baseURL string, pool *tokenPool, m *opMetrics) {
	tokenID, ok := pool.random()
	if !ok {
		return
	}

	start := time.Now()
	resp, err := client.Post(baseURL+"/api/tokens/"+tokenID+"/cancel", "application/json", nil)
	latency := time.Since(start)
	if err != nil {
		m.record(latency, 0)
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	m.record(latency, resp.StatusCode)
}

func runQueueRead(client *http.Client, baseURL string, doctor doctorInfo, m *opMetrics) {
	start := time.Now()
	resp, err := client.Get(baseURL + "/api/queue/" + doctor.ID)
	latency := time.Since(start)
	if err != nil {
		m.record(latency, 0)
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	m.record(latency, resp.StatusCode)
}

// verifyCapacity asserts directly against the store that normal admissions
// never exceeded capacity: the non-emergency seat count of every slot must
// be at most max_capacity.
func verifyCapacity(dsn string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		return err
	}
	defer pool.Close()

	var overAdmitted int
	err = pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM slots
		WHERE current_count - emergency_count > max_capacity
	`).Scan(&overAdmitted)
	if err != nil {
		return err
	}
	if overAdmitted > 0 {
		return fmt.Errorf("%d slots exceeded capacity", overAdmitted)
	}
	return nil
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-reservations/internal/config"
	"github.com/hackgods/clinic-reservations/internal/events"
	"github.com/hackgods/clinic-reservations/internal/identity"
	"github.com/hackgods/clinic-reservations/internal/logging"
	redisclient "github.com/hackgods/clinic-reservations/internal/redis"
	"github.com/hackgods/clinic-reservations/internal/schedule"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	Contenders   int     // concurrent owners racing for one slot per round
	CancelRatio  float64 // share of won slots cancelled again, which reopens them
	Practitioner string
	WatchEvents  bool
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[percentileIndex(len(latencies), 50)]
	p95 = latencies[percentileIndex(len(latencies), 95)]
	return avg, min, max, p50, p95
}

func percentileIndex(n, p int) int {
	idx := n * p / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

type Metrics struct {
	Availability OperationMetrics
	Booking      OperationMetrics
	Cancel       OperationMetrics
	Read         OperationMetrics

	Rounds       int64
	DoubleBooked int64 // rounds where more than one contender got 201
	EmptyRounds  int64 // rounds with no winner at all
	EventsByType sync.Map
	EventsSeen   int64
}

type Simulator struct {
	config   SimConfig
	template *schedule.Template
	tokens   *identity.SocialTokens
	client   *http.Client
	logger   zerolog.Logger
	metrics  Metrics
	date     time.Time
}

func main() {
	logger := logging.New(os.Getenv("APP_ENV"), os.Getenv("LOG_LEVEL")).With().Str("service", "simulate").Logger()

	baseCfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load base config")
	}
	cfg := loadConfig()
	if err := validateConfig(cfg, baseCfg); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	template, err := baseCfg.ScheduleTemplate()
	if err != nil {
		logger.Fatal().Err(err).Msg("slot template")
	}
	tomorrow := time.Now().In(template.Location()).AddDate(0, 0, 1)
	date, err := template.ParseDate(tomorrow.Format(time.DateOnly))
	if err != nil {
		logger.Fatal().Err(err).Msg("target date")
	}

	logger.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Int("contenders", cfg.Contenders).
		Str("date", date.Format(time.DateOnly)).
		Msg("simulator starting")

	sim := &Simulator{
		config:   cfg,
		template: template,
		tokens:   identity.NewSocialTokens(baseCfg.SocialTokenSecret, baseCfg.SocialTokenIssuer),
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   logger,
		date:     date,
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	if cfg.WatchEvents {
		if err := sim.watchEvents(ctx, baseCfg); err != nil {
			logger.Warn().Err(err).Msg("event watch disabled")
		}
	}

	sim.Run(ctx)
	sim.PrintReport()

	if atomic.LoadInt64(&sim.metrics.DoubleBooked) > 0 {
		os.Exit(1)
	}
}

func loadConfig() SimConfig {
	return SimConfig{
		APIBaseURL:   strings.TrimRight(getEnv("SIM_API_BASE_URL", "http://localhost:8080"), "/"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 4),
		Contenders:   getInt("SIM_CONTENDERS", 8),
		CancelRatio:  getFloat("SIM_CANCEL_RATIO", 0.3),
		Practitioner: getEnv("SIM_PRACTITIONER", "dr-sim"),
		WatchEvents:  getEnv("SIM_WATCH_EVENTS", "false") == "true",
	}
}

func validateConfig(cfg SimConfig, base config.Config) error {
	if base.SocialTokenSecret == "" {
		return fmt.Errorf("SOCIAL_TOKEN_SECRET is required to mint contender tokens")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Contenders < 2 {
		return fmt.Errorf("SIM_CONTENDERS must be >= 2")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	return nil
}

func (s *Simulator) watchEvents(ctx context.Context, base config.Config) error {
	rdb, err := redisclient.NewRedisClient(ctx, redisclient.Options{
		Addr:     base.RedisAddr,
		Username: base.RedisUsername,
		Password: base.RedisPassword,
		PoolSize: 2,
	})
	if err != nil {
		return err
	}

	stream, err := events.NewRedisPublisher(rdb, base.EventsChannel).Subscribe(ctx)
	if err != nil {
		_ = rdb.Close()
		return err
	}

	go func() {
		defer rdb.Close()
		for ev := range stream {
			atomic.AddInt64(&s.metrics.EventsSeen, 1)
			n, _ := s.metrics.EventsByType.LoadOrStore(ev.Type, new(int64))
			atomic.AddInt64(n.(*int64), 1)
		}
	}()
	return nil
}

func (s *Simulator) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.logger.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		open := s.fetchOpen(ctx)
		if len(open) == 0 {
			// Day is full or the server is unreachable.
			select {
			case <-ctx.Done():
				return
			case <-time.After(200 * time.Millisecond):
			}
			continue
		}

		at := s.template.At(s.date, open[rng.Intn(len(open))])
		winner, token := s.race(ctx, at)
		if winner == uuid.Nil {
			continue
		}

		s.doRead(ctx, winner, token)
		if rng.Float64() < s.config.CancelRatio {
			s.doCancel(ctx, winner, token)
		}
	}
}

func (s *Simulator) fetchOpen(ctx context.Context) []schedule.TimeOfDay {
	url := fmt.Sprintf("%s/availability?date=%s&practitioner=%s",
		s.config.APIBaseURL, s.date.Format(time.DateOnly), s.config.Practitioner)

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		s.metrics.Availability.Record(latency, false, false)
		return nil
	}
	defer resp.Body.Close()

	var body struct {
		Open []schedule.TimeOfDay `json:"open"`
	}
	ok := resp.StatusCode == http.StatusOK && json.NewDecoder(resp.Body).Decode(&body) == nil
	s.metrics.Availability.Record(latency, ok, false)
	return body.Open
}

// race fires one POST per contender at the same instant and returns the winner, if any.
func (s *Simulator) race(ctx context.Context, at time.Time) (uuid.UUID, string) {
	atomic.AddInt64(&s.metrics.Rounds, 1)

	type result struct {
		id    uuid.UUID
		token string
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []result
		start   = make(chan struct{})
	)

	for i := 0; i < s.config.Contenders; i++ {
		token, err := s.tokens.Issue("sim-"+uuid.NewString(), time.Hour)
		if err != nil {
			s.logger.Error().Err(err).Msg("mint contender token")
			return uuid.Nil, ""
		}

		wg.Add(1)
		go func(token string) {
			defer wg.Done()
			<-start
			if id, ok := s.doBooking(ctx, at, token); ok {
				mu.Lock()
				winners = append(winners, result{id: id, token: token})
				mu.Unlock()
			}
		}(token)
	}

	close(start)
	wg.Wait()

	switch len(winners) {
	case 0:
		atomic.AddInt64(&s.metrics.EmptyRounds, 1)
		return uuid.Nil, ""
	case 1:
		return winners[0].id, winners[0].token
	default:
		atomic.AddInt64(&s.metrics.DoubleBooked, 1)
		s.logger.Error().Time("slot", at).Int("winners", len(winners)).Msg("slot booked more than once")
		return winners[0].id, winners[0].token
	}
}

func (s *Simulator) doBooking(ctx context.Context, at time.Time, token string) (uuid.UUID, bool) {
	body, _ := json.Marshal(map[string]string{
		"scheduled_at": at.Format(time.RFC3339),
		"practitioner": s.config.Practitioner,
		"notes":        "simulated booking",
	})

	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+"/reservations", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		s.metrics.Booking.Record(latency, false, false)
		return uuid.Nil, false
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated:
		var created struct {
			ID uuid.UUID `json:"id"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&created)
		s.metrics.Booking.Record(latency, true, false)
		return created.ID, created.ID != uuid.Nil
	case http.StatusConflict:
		s.metrics.Booking.Record(latency, false, true)
	default:
		s.metrics.Booking.Record(latency, false, false)
	}
	return uuid.Nil, false
}

func (s *Simulator) doCancel(ctx context.Context, id uuid.UUID, token string) {
	body, _ := json.Marshal(map[string]string{
		"status": "cancelled",
		"reason": "simulated cancellation",
	})

	req, _ := http.NewRequestWithContext(ctx, http.MethodPatch,
		fmt.Sprintf("%s/reservations/%s", s.config.APIBaseURL, id), bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success, conflict := false, false
	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
		conflict = resp.StatusCode == http.StatusConflict
	}
	s.metrics.Cancel.Record(latency, success, conflict)
}

func (s *Simulator) doRead(ctx context.Context, id uuid.UUID, token string) {
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/reservations/%s", s.config.APIBaseURL, id), nil)
	req.Header.Set("Authorization", "Bearer "+token)

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
	}
	s.metrics.Read.Record(latency, success, false)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d  Contenders per slot: %d\n", s.config.Workers, s.config.Contenders)
	fmt.Printf("Rounds: %d  Without winner: %d  Double booked: %d\n",
		atomic.LoadInt64(&s.metrics.Rounds),
		atomic.LoadInt64(&s.metrics.EmptyRounds),
		atomic.LoadInt64(&s.metrics.DoubleBooked))
	fmt.Println()

	printOperationReport("Availability", &s.metrics.Availability)
	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Read", &s.metrics.Read)
	printOperationReport("Cancel", &s.metrics.Cancel)

	if seen := atomic.LoadInt64(&s.metrics.EventsSeen); seen > 0 {
		fmt.Printf("Events received: %d\n", seen)
		s.metrics.EventsByType.Range(func(k, v any) bool {
			fmt.Printf("  %s: %d\n", k, atomic.LoadInt64(v.(*int64)))
			return true
		})
	}
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// Package simulator drives synthetic direct-message traffic against a
// running server: it registers a pool of users, pairs them off with a Zipf
// bias so a few conversations stay hot, and measures request latencies.
package simulator

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"lilychat/internal/client"
	"lilychat/internal/models"
)

type SimConfig struct {
	NumUsers         int
	SimulationTime   time.Duration
	MessageFrequency float64 // messages per user per hour
	SeenFrequency    float64 // conversation reads per user per hour
	DisconnectRate   float64
	ReconnectRate    float64
	ZipfS            float64
	ServerURL        string
}

type SimulationStats struct {
	mu               sync.RWMutex
	StartTime        time.Time
	TotalRequests    int64
	SuccessRequests  int64
	FailedRequests   int64
	TotalMessages    int
	TotalSeenMarks   int
	ActiveUsers      int
	RequestLatencies []time.Duration
}

// SimulatedUser owns one authenticated API client.
type SimulatedUser struct {
	Profile     *models.Profile
	API         *client.API
	IsConnected bool
	Partners    []*SimulatedUser
}

type Simulator struct {
	config SimConfig
	stats  *SimulationStats
	users  []*SimulatedUser
	mu     sync.RWMutex
}

func NewSimulator(config SimConfig) *Simulator {
	return &Simulator{
		config: config,
		stats: &SimulationStats{
			StartTime:        time.Now(),
			RequestLatencies: make([]time.Duration, 0),
		},
	}
}

func (s *Simulator) Run(ctx context.Context) error {
	slog.Info("starting simulation", "users", s.config.NumUsers, "duration", s.config.SimulationTime)

	if err := s.initialize(ctx); err != nil {
		return fmt.Errorf("initialization failed: %v", err)
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.simulateMessages(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.simulateSeenMarks(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.simulateConnectivity(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.collectMetrics(ctx)
	}()

	wg.Wait()
	return nil
}

func (s *Simulator) initialize(ctx context.Context) error {
	slog.Info("registering simulated users", "count", s.config.NumUsers)

	s.users = make([]*SimulatedUser, 0, s.config.NumUsers)
	run := time.Now().UnixNano()
	for i := 0; i < s.config.NumUsers; i++ {
		api := client.NewAPI(s.config.ServerURL)
		email := fmt.Sprintf("sim-%d-%d@lilychat.test", run, i)
		handle := fmt.Sprintf("sim_%d_%d", run%100000, i)

		start := time.Now()
		profile, err := api.Register(ctx, email, "simulated-password", handle, fmt.Sprintf("Sim User %d", i))
		s.recordRequestMetrics(start, err)
		if err != nil {
			return fmt.Errorf("failed to register user %d: %v", i, err)
		}

		s.users = append(s.users, &SimulatedUser{
			Profile:     profile,
			API:         api,
			IsConnected: true,
		})
	}

	// Precompute each user's conversation partners so the Zipf skew applies
	// over a stable ordering.
	for i, user := range s.users {
		for j, other := range s.users {
			if i != j {
				user.Partners = append(user.Partners, other)
			}
		}
	}

	slog.Info("initialization complete", "users", len(s.users))
	return nil
}

// getZipfNumber returns a rank in [0, max) biased toward small ranks.
func (s *Simulator) getZipfNumber(max int) int {
	if max <= 1 {
		return 0
	}
	x := rand.Float64()
	n := int(math.Floor(math.Pow(float64(max), 1.0-x) * math.Pow(x, s.config.ZipfS) * 0.5))
	if n >= max {
		n = max - 1
	}
	if n < 0 {
		n = 0
	}
	return n
}

func (s *Simulator) connectedUsers() []*SimulatedUser {
	s.mu.RLock()
	defer s.mu.RUnlock()
	connected := make([]*SimulatedUser, 0, len(s.users))
	for _, user := range s.users {
		if user.IsConnected {
			connected = append(connected, user)
		}
	}
	return connected
}

func (s *Simulator) simulateConnectivity(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			active := 0
			for _, user := range s.users {
				if user.IsConnected {
					if rand.Float64() < s.config.DisconnectRate {
						user.IsConnected = false
					}
				} else {
					if rand.Float64() < s.config.ReconnectRate {
						user.IsConnected = true
						// A reconnecting client heartbeats and catches up on
						// delivery, same as the real SDK.
						go func(u *SimulatedUser) {
							start := time.Now()
							_, err := u.API.Heartbeat(ctx)
							s.recordRequestMetrics(start, err)

							start = time.Now()
							_, err = u.API.MarkDelivered(ctx)
							s.recordRequestMetrics(start, err)
						}(user)
					}
				}
				if user.IsConnected {
					active++
				}
			}
			s.mu.Unlock()

			s.stats.mu.Lock()
			s.stats.ActiveUsers = active
			s.stats.mu.Unlock()
		}
	}
}

func (s *Simulator) recordRequestMetrics(start time.Time, err error) {
	latency := time.Since(start)
	s.stats.mu.Lock()
	defer s.stats.mu.Unlock()

	s.stats.TotalRequests++
	if err != nil {
		s.stats.FailedRequests++
	} else {
		s.stats.SuccessRequests++
	}
	s.stats.RequestLatencies = append(s.stats.RequestLatencies, latency)
}

func (s *Simulator) collectMetrics(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m := s.GetMetrics()
			slog.Info("simulation progress",
				"requests", m.TotalRequests,
				"failed", m.FailedRequests,
				"messages", m.TotalMessages,
				"seenMarks", m.TotalSeenMarks,
				"activeUsers", m.ActiveUsers,
				"avgLatency", m.AverageLatency)
		}
	}
}

type SimulationMetrics struct {
	TotalUsers     int
	ActiveUsers    int
	TotalRequests  int64
	FailedRequests int64
	TotalMessages  int
	TotalSeenMarks int
	AverageLatency time.Duration
}

func (s *Simulator) GetMetrics() SimulationMetrics {
	s.stats.mu.RLock()
	defer s.stats.mu.RUnlock()

	var avg time.Duration
	if len(s.stats.RequestLatencies) > 0 {
		var total time.Duration
		for _, l := range s.stats.RequestLatencies {
			total += l
		}
		avg = total / time.Duration(len(s.stats.RequestLatencies))
	}

	return SimulationMetrics{
		TotalUsers:     len(s.users),
		ActiveUsers:    s.stats.ActiveUsers,
		TotalRequests:  s.stats.TotalRequests,
		FailedRequests: s.stats.FailedRequests,
		TotalMessages:  s.stats.TotalMessages,
		TotalSeenMarks: s.stats.TotalSeenMarks,
		AverageLatency: avg,
	}
}

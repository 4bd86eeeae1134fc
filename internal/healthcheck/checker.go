package healthcheck

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"
)

type Status struct {
	Target       string    `json:"target"`
	IsHealthy    bool      `json:"is_healthy"`
	LastCheck    time.Time `json:"last_check"`
	FailureCount int       `json:"failure_count"`
}

type Config struct {
	Targets     []string
	Endpoint    string        // Health check endpoint (e.g., "/health")
	Interval    time.Duration // How often to check (default: 10s)
	Timeout     time.Duration // Request timeout (default: 5s)
	MaxFailures int           // Failures before marking unhealthy (default: 3)
}

// Probes backend targets periodically so the forwarding path only picks
// targets that answered recently
type Checker struct {
	mu       sync.RWMutex
	statuses map[string]*Status
	targets  []string
	endpoint string
	interval time.Duration
	timeout  time.Duration
	maxFails int
	stopChan chan struct{}
	running  bool
}

func NewChecker(cfg *Config) *Checker {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "/health"
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}

	checker := &Checker{
		statuses: make(map[string]*Status),
		targets:  cfg.Targets,
		endpoint: cfg.Endpoint,
		interval: cfg.Interval,
		timeout:  cfg.Timeout,
		maxFails: cfg.MaxFailures,
		stopChan: make(chan struct{}),
	}

	// Assume healthy until a probe says otherwise
	for _, target := range cfg.Targets {
		checker.statuses[target] = &Status{
			Target:    target,
			IsHealthy: true,
			LastCheck: time.Now(),
		}
	}

	return checker
}

// Begins periodic health checks
func (c *Checker) Start() {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.mu.Unlock()

	log.Printf("Starting health checks for %d targets (interval: %v)", len(c.targets), c.interval)

	c.checkAll()

	go func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.checkAll()
			case <-c.stopChan:
				return
			}
		}
	}()
}

// Stops the health checker
func (c *Checker) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		close(c.stopChan)
		c.running = false
	}
}

func (c *Checker) checkAll() {
	var wg sync.WaitGroup

	for _, target := range c.targets {
		wg.Add(1)
		go func(t string) {
			defer wg.Done()
			c.checkTarget(t)
		}(target)
	}

	wg.Wait()
}

func (c *Checker) checkTarget(target string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target+c.endpoint, nil)
	if err != nil {
		c.record(target, false)
		return
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		c.record(target, false)
		return
	}
	defer resp.Body.Close()

	c.record(target, resp.StatusCode >= 200 && resp.StatusCode < 400)
}

func (c *Checker) record(target string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := c.statuses[target]
	status.LastCheck = time.Now()

	if ok {
		status.FailureCount = 0
		if !status.IsHealthy {
			log.Printf("Target %s is healthy again", target)
			status.IsHealthy = true
		}
		return
	}

	status.FailureCount++
	if status.IsHealthy && status.FailureCount >= c.maxFails {
		log.Printf("Target %s marked unhealthy after %d failures", target, status.FailureCount)
		status.IsHealthy = false
	}
}

// Returns only healthy targets
func (c *Checker) HealthyTargets() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	healthy := make([]string, 0, len(c.targets))
	for _, target := range c.targets {
		if c.statuses[target].IsHealthy {
			healthy = append(healthy, target)
		}
	}

	return healthy
}

// Returns a copy of every target's status
func (c *Checker) Snapshot() map[string]Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snapshot := make(map[string]Status, len(c.statuses))
	for target, status := range c.statuses {
		snapshot[target] = *status
	}

	return snapshot
}

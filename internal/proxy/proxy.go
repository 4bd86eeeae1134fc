package proxy

import (
	"errors"
	"log"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/aman-churiwal/admission-gateway/internal/circuitbreaker"
	"github.com/aman-churiwal/admission-gateway/internal/healthcheck"
	"github.com/aman-churiwal/admission-gateway/internal/loadbalancer"
	"github.com/gin-gonic/gin"
)

// Backend forwards admitted requests to one of the e-commerce services
// behind the gateway. The status codes its targets return are what the
// suspicious activity detector ends up observing.
type Backend struct {
	targets        []string
	proxies        map[string]*httputil.ReverseProxy
	circuitBreaker *circuitbreaker.CircuitBreaker
	loadBalancer   loadbalancer.Strategy
	healthChecker  *healthcheck.Checker
}

type Config struct {
	Targets              []string
	LoadBalancerStrategy string
	CircuitBreaker       circuitbreaker.Config
	HealthCheck          healthcheck.Config
}

func New(cfg Config) (*Backend, error) {
	if len(cfg.Targets) == 0 {
		return nil, errors.New("at least one target is required")
	}

	lb, err := loadbalancer.NewStrategy(cfg.LoadBalancerStrategy)
	if err != nil {
		return nil, err
	}

	proxies := make(map[string]*httputil.ReverseProxy, len(cfg.Targets))
	for _, targetURL := range cfg.Targets {
		target, err := url.Parse(targetURL)
		if err != nil {
			return nil, err
		}
		proxies[targetURL] = httputil.NewSingleHostReverseProxy(target)
	}

	if cfg.HealthCheck.Targets == nil {
		cfg.HealthCheck.Targets = cfg.Targets
	}
	hc := healthcheck.NewChecker(&cfg.HealthCheck)
	hc.Start()

	b := &Backend{
		targets:        cfg.Targets,
		proxies:        proxies,
		circuitBreaker: circuitbreaker.New(cfg.CircuitBreaker),
		loadBalancer:   lb,
		healthChecker:  hc,
	}

	log.Printf("Backend initialized with %d targets, strategy: %s", len(cfg.Targets), lb.Name())

	return b, nil
}

// Forwards the request to a healthy target
func (b *Backend) Handle(c *gin.Context) {
	healthyTargets := b.healthChecker.HealthyTargets()

	if len(healthyTargets) == 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "No healthy backend servers available",
		})
		return
	}

	selectedTarget := b.loadBalancer.Next(healthyTargets)
	targetProxy, exists := b.proxies[selectedTarget]
	if !exists {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Failed to select backend server",
		})
		return
	}

	if lc, ok := b.loadBalancer.(*loadbalancer.LeastConnections); ok {
		lc.Increment(selectedTarget)
		defer lc.Decrement(selectedTarget)
	}

	target, _ := url.Parse(selectedTarget)

	err := b.circuitBreaker.Call(func() error {
		recorder := &statusRecorder{
			ResponseWriter: c.Writer,
			statusCode:     http.StatusOK,
		}

		req := c.Request
		req.URL.Host = target.Host
		req.URL.Scheme = target.Scheme
		req.Header.Set("X-Forwarded-Host", req.Header.Get("Host"))
		req.Host = target.Host

		if clientIP := c.ClientIP(); clientIP != "" {
			req.Header.Set("X-Forwarded-For", clientIP)
		}

		c.Header("X-Backend-Server", selectedTarget)
		c.Writer = recorder

		targetProxy.ServeHTTP(c.Writer, req)

		// 5xx from the backend counts as a breaker failure
		if recorder.statusCode >= 500 {
			return errors.New("backend error")
		}

		return nil
	})

	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		log.Printf("Circuit breaker open for %s", selectedTarget)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Service temporarily unavailable",
		})
	}
}

// Returns the current circuit breaker state
func (b *Backend) CircuitBreakerState() circuitbreaker.State {
	return b.circuitBreaker.State()
}

// Returns health status of all targets
func (b *Backend) HealthStatus() map[string]healthcheck.Status {
	return b.healthChecker.Snapshot()
}

// Stops the health checker
func (b *Backend) Stop() {
	b.healthChecker.Stop()
}

// Captures the response status code
type statusRecorder struct {
	gin.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

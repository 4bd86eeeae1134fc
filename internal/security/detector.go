package security

import (
	"context"
	"log"

	"github.com/aman-churiwal/admission-gateway/internal/config"
	"github.com/aman-churiwal/admission-gateway/internal/ratelimit"
)

type SignalType string

const (
	SignalCredentialStuffing SignalType = "credential_stuffing"
	SignalEndpointScanning   SignalType = "endpoint_scanning"
	SignalAbuse              SignalType = "abuse"
)

// Signal flags that an abuse pattern crossed its threshold. Emitted, never
// stored; downstream alerting owns persistence.
type Signal struct {
	Type          SignalType
	ClientIP      string
	Count         int64
	WindowSeconds int
}

type pattern struct {
	counter     *ratelimit.SlidingWindowLimiter
	threshold   int
	signal      SignalType
	description string
	matches     func(statusCode int) bool
}

// Detector passively watches response outcomes per client IP and raises
// signals when abuse patterns cross their thresholds. It never admits or
// rejects anything on its own.
type Detector struct {
	patterns      []pattern
	windowSeconds int
}

func NewDetector(store ratelimit.Store, cfg config.SuspiciousConfig) (*Detector, error) {
	window := cfg.Window()

	// Limit 0 turns each limiter into a pure counter; only CurrentCount is
	// consulted. Key prefixes match existing deployments.
	failedAuth, err := ratelimit.NewSlidingWindowLimiter(store, "suspicious:401:", 0, window)
	if err != nil {
		return nil, err
	}
	notFound, err := ratelimit.NewSlidingWindowLimiter(store, "suspicious:404:", 0, window)
	if err != nil {
		return nil, err
	}
	clientError, err := ratelimit.NewSlidingWindowLimiter(store, "suspicious:4xx:", 0, window)
	if err != nil {
		return nil, err
	}

	return &Detector{
		windowSeconds: cfg.WindowSeconds,
		patterns: []pattern{
			{
				counter:     failedAuth,
				threshold:   cfg.CredentialStuffingThreshold,
				signal:      SignalCredentialStuffing,
				description: "failed auths",
				matches:     func(status int) bool { return status == 401 },
			},
			{
				counter:     notFound,
				threshold:   cfg.EndpointScanningThreshold,
				signal:      SignalEndpointScanning,
				description: "404s",
				matches:     func(status int) bool { return status == 404 },
			},
			{
				counter:     clientError,
				threshold:   cfg.AbuseThreshold,
				signal:      SignalAbuse,
				description: "4xx errors",
				matches:     func(status int) bool { return status >= 400 && status < 500 },
			},
		},
	}, nil
}

// Observe feeds one response outcome into every matching counter and returns
// the signals that crossed their threshold on this observation. Counters are
// independent and additive: a single 401 lands in both the failed-auth and
// the general 4xx counter.
//
// A signal fires exactly when its count reaches the threshold. Counts beyond
// it stay quiet until the window rolls past the original crossing, at which
// point sustained abuse re-fires. Observation is best-effort: store errors
// are logged and swallowed.
func (d *Detector) Observe(ctx context.Context, clientIP string, statusCode int) []Signal {
	var signals []Signal

	for _, p := range d.patterns {
		if !p.matches(statusCode) {
			continue
		}

		decision, err := p.counter.Check(ctx, clientIP)
		if err != nil {
			log.Printf("Suspicious activity check failed for %s: %v", clientIP, err)
			continue
		}

		if decision.CurrentCount == int64(p.threshold) {
			log.Printf("Suspicious activity: %s from %s (%d %s in %d s)",
				p.signal, clientIP, decision.CurrentCount, p.description, d.windowSeconds)

			signals = append(signals, Signal{
				Type:          p.signal,
				ClientIP:      clientIP,
				Count:         decision.CurrentCount,
				WindowSeconds: d.windowSeconds,
			})
		}
	}

	return signals
}

package ratelimit

import (
	"context"
	"log"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/config"
)

// Tier names as they appear in rejection messages and metric labels
const (
	TierIP    = "IP"
	TierUser  = "user"
	TierStore = "store"
)

// Key prefixes shared with existing deployments; changing them breaks
// interoperability with instances already writing these windows
const (
	ipKeyPrefix   = "rate:ip:"
	userKeyPrefix = "rate:user:"
)

// DualTierAdmissionPolicy combines an IP-scoped limiter and a user-scoped
// limiter into one request-level decision. The IP ceiling is generous because
// NAT and shared Wi-Fi put many users behind one address; the user ceiling is
// stricter so a single authenticated client cannot burn the shared budget.
type DualTierAdmissionPolicy struct {
	ipLimiter   *SlidingWindowLimiter
	userLimiter *SlidingWindowLimiter
	failOpen    bool
}

func NewDualTierAdmissionPolicy(store Store, cfg config.AdmissionConfig) (*DualTierAdmissionPolicy, error) {
	window := cfg.Window()

	ipLimiter, err := NewSlidingWindowLimiter(store, ipKeyPrefix, cfg.IPLimit, window)
	if err != nil {
		return nil, err
	}

	userLimiter, err := NewSlidingWindowLimiter(store, userKeyPrefix, cfg.UserLimit, window)
	if err != nil {
		return nil, err
	}

	return &DualTierAdmissionPolicy{
		ipLimiter:   ipLimiter,
		userLimiter: userLimiter,
		failOpen:    cfg.FailOpen,
	}, nil
}

// Evaluate checks both tiers and never returns an error: store failures are
// converted into the fail-open (or configured fail-closed) decision right
// here, once, instead of leaking into the request handler.
//
// The IP tier is always evaluated; the user tier only when the request
// carries a user identity. Both tiers are recorded even when the first has
// already rejected, so both counters keep reflecting true request volume.
func (p *DualTierAdmissionPolicy) Evaluate(ctx context.Context, clientIP, userID string) Decision {
	ipDecision, ipErr := p.ipLimiter.Check(ctx, clientIP)

	var userDecision Decision
	var userErr error
	userChecked := userID != ""
	if userChecked {
		userDecision, userErr = p.userLimiter.Check(ctx, userID)
	}

	// Legitimate rejections stand even if the other tier's check failed,
	// IP tier reported first
	if ipErr == nil && !ipDecision.Admitted {
		ipDecision.Tier = TierIP
		return ipDecision
	}
	if userChecked && userErr == nil && !userDecision.Admitted {
		userDecision.Tier = TierUser
		return userDecision
	}

	if ipErr != nil || userErr != nil {
		storeErr := ipErr
		if storeErr == nil {
			storeErr = userErr
		}

		if p.failOpen {
			// Uncapped traffic beats turning a store outage into a full
			// service outage
			log.Printf("Rate limit store unavailable, admitting request: %v", storeErr)
			return Decision{Admitted: true, Degraded: true}
		}

		log.Printf("Rate limit store unavailable, rejecting request: %v", storeErr)
		return Decision{Admitted: false, Tier: TierStore, Degraded: true}
	}

	ipDecision.Tier = TierIP
	return ipDecision
}

func (p *DualTierAdmissionPolicy) Window() time.Duration {
	return p.ipLimiter.Window()
}

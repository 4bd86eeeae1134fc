package loadbalancer

import (
	"fmt"
	"math/rand"
	"sync"
	"time"
)

type Strategy interface {
	// Selects the next target from available targets
	Next(targets []string) string

	// Returns the strategy name
	Name() string
}

// Creates a load balancing strategy based on name
func NewStrategy(strategyName string) (Strategy, error) {
	switch strategyName {
	case "round-robin", "round_robin", "":
		return NewRoundRobin(), nil
	case "random":
		return NewRandom(), nil
	case "least-connections", "least_connections":
		return NewLeastConnections(), nil
	default:
		return nil, fmt.Errorf("unknown load balancing strategy: %s", strategyName)
	}
}

type RoundRobin struct {
	mu      sync.Mutex
	current int
}

func NewRoundRobin() *RoundRobin {
	return &RoundRobin{}
}

func (r *RoundRobin) Next(targets []string) string {
	if len(targets) == 0 {
		return ""
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	target := targets[r.current%len(targets)]
	r.current++

	return target
}

func (r *RoundRobin) Name() string {
	return "round_robin"
}

type Random struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewRandom() *Random {
	return &Random{
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *Random) Next(targets []string) string {
	if len(targets) == 0 {
		return ""
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return targets[r.rng.Intn(len(targets))]
}

func (r *Random) Name() string {
	return "random"
}

type LeastConnections struct {
	mu          sync.Mutex
	connections map[string]int
}

func NewLeastConnections() *LeastConnections {
	return &LeastConnections{
		connections: make(map[string]int),
	}
}

func (l *LeastConnections) Next(targets []string) string {
	if len(targets) == 0 {
		return ""
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	selected := targets[0]
	minConn := l.connections[selected]

	for _, target := range targets[1:] {
		if conn := l.connections[target]; conn < minConn {
			minConn = conn
			selected = target
		}
	}

	return selected
}

func (l *LeastConnections) Increment(target string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connections[target]++
}

func (l *LeastConnections) Decrement(target string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.connections[target] > 0 {
		l.connections[target]--
	}
}

func (l *LeastConnections) Name() string {
	return "least_connections"
}

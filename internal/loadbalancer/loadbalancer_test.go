package loadbalancer

import "testing"

func TestRoundRobin_CyclesThroughTargets(t *testing.T) {
	lb := NewRoundRobin()
	targets := []string{"http://a:8001", "http://b:8002", "http://c:8003"}

	expected := []string{
		"http://a:8001", "http://b:8002", "http://c:8003",
		"http://a:8001", "http://b:8002",
	}

	for i, want := range expected {
		if got := lb.Next(targets); got != want {
			t.Errorf("pick %d: expected %s, got %s", i, want, got)
		}
	}
}

func TestRoundRobin_EmptyTargets(t *testing.T) {
	lb := NewRoundRobin()
	if got := lb.Next(nil); got != "" {
		t.Errorf("expected empty string, got %s", got)
	}
}

func TestLeastConnections_PicksIdleTarget(t *testing.T) {
	lb := NewLeastConnections()
	targets := []string{"http://a:8001", "http://b:8002"}

	lb.Increment("http://a:8001")
	lb.Increment("http://a:8001")
	lb.Increment("http://b:8002")

	if got := lb.Next(targets); got != "http://b:8002" {
		t.Errorf("expected least loaded target, got %s", got)
	}

	lb.Decrement("http://a:8001")
	lb.Decrement("http://a:8001")

	if got := lb.Next(targets); got != "http://a:8001" {
		t.Errorf("expected drained target, got %s", got)
	}
}

func TestRandom_ReturnsAConfiguredTarget(t *testing.T) {
	lb := NewRandom()
	targets := []string{"http://a:8001", "http://b:8002"}

	for i := 0; i < 20; i++ {
		got := lb.Next(targets)
		if got != targets[0] && got != targets[1] {
			t.Fatalf("unexpected target %s", got)
		}
	}
}

func TestNewStrategy(t *testing.T) {
	for _, name := range []string{"", "round_robin", "round-robin", "random", "least_connections"} {
		if _, err := NewStrategy(name); err != nil {
			t.Errorf("expected strategy for %q, got error %v", name, err)
		}
	}

	if _, err := NewStrategy("bogus"); err == nil {
		t.Error("expected error for unknown strategy")
	}
}

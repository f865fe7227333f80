package observability

import (
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"

	"mintforge/events"
)

func counterValue(t *testing.T, c interface {
	Write(*dto.Metric) error
}) float64 {
	t.Helper()
	var metric dto.Metric
	if err := c.Write(&metric); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return metric.GetCounter().GetValue()
}

func TestForgeMetricsRecord(t *testing.T) {
	m := Forge()
	if m == nil {
		t.Fatal("expected singleton registry")
	}
	if Forge() != m {
		t.Fatal("expected stable singleton")
	}

	before := counterValue(t, m.rateLimited.WithLabelValues("claim"))
	m.RecordRateLimited("claim")
	if got := counterValue(t, m.rateLimited.WithLabelValues("claim")); got != before+1 {
		t.Fatalf("rate limited counter: got %v want %v", got, before+1)
	}

	before = counterValue(t, m.replays)
	m.RecordReplayRejected()
	if got := counterValue(t, m.replays); got != before+1 {
		t.Fatalf("replay counter: got %v want %v", got, before+1)
	}

	before = counterValue(t, m.requests.WithLabelValues("forge_getNonce", "ok"))
	m.ObserveRequest("forge_getNonce", "ok", 5*time.Millisecond)
	if got := counterValue(t, m.requests.WithLabelValues("forge_getNonce", "ok")); got != before+1 {
		t.Fatalf("request counter: got %v want %v", got, before+1)
	}

	before = counterValue(t, m.burnsSeen)
	m.RecordBurnProcessed()
	if got := counterValue(t, m.burnsSeen); got != before+1 {
		t.Fatalf("burn counter: got %v want %v", got, before+1)
	}
}

func TestNilReceiverIsSafe(t *testing.T) {
	var m *ForgeMetrics
	m.ObserveRequest("forge_getNonce", "ok", time.Millisecond)
	m.RecordRateLimited("mint")
	m.RecordReplayRejected()
	m.RecordEvent("gold_claim_signed")
	m.RecordBurnProcessed()
}

func TestEventCounterEmitter(t *testing.T) {
	m := Forge()
	event := events.GoldClaimSigned{Player: "0xabc", Nonce: 1}
	before := counterValue(t, m.events.WithLabelValues(event.EventType()))

	EventCounter{}.Emit(event)
	if got := counterValue(t, m.events.WithLabelValues(event.EventType())); got != before+1 {
		t.Fatalf("event counter: got %v want %v", got, before+1)
	}
}

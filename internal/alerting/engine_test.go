// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"aegis.dev/aegis/internal/config"
	"aegis.dev/aegis/internal/record"
)

func TestEngineDeliversWebhookOnSeverityMatch(t *testing.T) {
	var receivedPayload map[string]interface{}
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		json.NewDecoder(r.Body).Decode(&receivedPayload)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	assertPayload := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return receivedPayload != nil && receivedPayload["message"] == "deny triggered"
	}

	engine := NewEngine(nil)
	cfg := &config.AlertingConfig{
		Channels: []config.NotificationChannel{
			{Name: "test-webhook", Type: "webhook", URL: server.URL},
		},
		Rules: []config.AlertRuleConfig{
			{Name: "high-and-up", MinSeverity: "high", Channels: []string{"test-webhook"}},
		},
		DedupWindowSecs: 1,
	}
	engine.UpdateConfig(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	engine.Start(ctx)

	engine.Trigger(AlertEvent{
		Decision: record.Decision{
			DecisionID: "dec-1",
			Action:     record.ActionDeny,
			Parameters: record.DecisionParameters{SrcAddr: "203.0.113.7"},
			DecidedAt:  time.Now(),
		},
		Message: "deny triggered",
	})

	assert.Eventually(t, assertPayload, 5*time.Second, 10*time.Millisecond, "webhook payload not received")
}

func TestEngineSkipsRuleBelowMinSeverity(t *testing.T) {
	var called bool
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		called = true
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	engine := NewEngine(nil)
	cfg := &config.AlertingConfig{
		Channels: []config.NotificationChannel{
			{Name: "critical-only", Type: "webhook", URL: server.URL},
		},
		Rules: []config.AlertRuleConfig{
			{Name: "critical-rule", MinSeverity: "critical", Channels: []string{"critical-only"}},
		},
	}
	engine.UpdateConfig(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	engine.Start(ctx)

	engine.Trigger(AlertEvent{
		Decision: record.Decision{Action: record.ActionMonitor, DecidedAt: time.Now()},
		Message:  "should not reach webhook",
	})

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.False(t, called, "monitor severity should not satisfy a critical-only rule")
}

func TestEngineDedupSuppressesRepeat(t *testing.T) {
	engine := NewEngine(nil)
	engine.UpdateConfig(&config.AlertingConfig{DedupWindowSecs: 300})

	dec := record.Decision{
		Action:     record.ActionDeny,
		Parameters: record.DecisionParameters{SrcAddr: "203.0.113.9"},
		DecidedAt:  time.Now(),
	}
	engine.handleEvent(AlertEvent{Decision: dec, Severity: LevelHigh, Timestamp: dec.DecidedAt, Message: "first"})
	engine.handleEvent(AlertEvent{Decision: dec, Severity: LevelHigh, Timestamp: dec.DecidedAt.Add(time.Second), Message: "second"})

	history := engine.GetHistory()
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2 (dedup only gates delivery, not history)", len(history))
	}
	if got := engine.lastSent[dedupKey(dec, 300)]; !got.Equal(dec.DecidedAt) {
		t.Fatalf("lastSent = %v, want %v (second event within the dedup window should be suppressed)", got, dec.DecidedAt)
	}
}

func TestSeverityForAction(t *testing.T) {
	cases := []struct {
		action record.Action
		want   AlertLevel
	}{
		{record.ActionQuarantineShort, LevelCritical},
		{record.ActionDeny, LevelHigh},
		{record.ActionRateLimitMed, LevelMedium},
		{record.ActionMonitor, LevelLow},
	}
	for _, c := range cases {
		if got := severityFor(c.action); got != c.want {
			t.Errorf("severityFor(%s) = %s, want %s", c.action, got, c.want)
		}
	}
}

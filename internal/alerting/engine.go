// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package alerting is the alerting stage: it consumes
// Decisions and rule outcomes, derives severity, de-duplicates, and
// fans out to configured notification channels. Sink failures never
// back-pressure the detection pipeline — Trigger is non-blocking and
// delivery runs on its own goroutine per channel.
package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"strings"
	"sync"
	"time"

	"aegis.dev/aegis/internal/config"
	"aegis.dev/aegis/internal/logging"
)

// Engine manages alert rules/channels and dispatches incoming events,
// adapted directly from an existing alerting engine shape.
type Engine struct {
	mu         sync.RWMutex
	rules      []config.AlertRuleConfig
	channels   map[string]config.NotificationChannel
	dedupKey   string
	dedupSecs  int
	lastSent   map[string]time.Time
	history    []AlertEvent
	maxHistory int
	eventChan  chan AlertEvent
	stopChan   chan struct{}
	httpClient *http.Client
	logger     *logging.Logger
}

// NewEngine creates a new Alerting Engine.
func NewEngine(logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.Default().WithComponent("alerting")
	}
	return &Engine{
		channels:   make(map[string]config.NotificationChannel),
		lastSent:   make(map[string]time.Time),
		maxHistory: 1000,
		eventChan:  make(chan AlertEvent, 100),
		stopChan:   make(chan struct{}),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// UpdateConfig updates the engine's rules and channels from configuration.
func (e *Engine) UpdateConfig(cfg *config.AlertingConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if cfg == nil {
		e.rules = nil
		e.channels = make(map[string]config.NotificationChannel)
		return
	}

	e.channels = make(map[string]config.NotificationChannel, len(cfg.Channels))
	for _, ch := range cfg.Channels {
		e.channels[ch.Name] = ch
	}
	e.rules = cfg.Rules
	e.dedupKey = cfg.DedupKey
	e.dedupSecs = cfg.DedupWindowSecs
	if cfg.MaxHistory > 0 {
		e.maxHistory = cfg.MaxHistory
	}
}

// Start starts the engine's background processing.
func (e *Engine) Start(ctx context.Context) {
	go e.run(ctx)
}

func (e *Engine) run(ctx context.Context) {
	for {
		select {
		case event := <-e.eventChan:
			e.handleEvent(event)
		case <-e.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// handleEvent records the event and, unless suppressed by the dedup
// window, fans it out to every channel named by a rule whose
// min_severity the event meets.
func (e *Engine) handleEvent(event AlertEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.history = append(e.history, event)
	if len(e.history) > e.maxHistory {
		e.history = e.history[len(e.history)-e.maxHistory:]
	}

	key := dedupKey(event.Decision, e.dedupSecs)
	if last, ok := e.lastSent[key]; ok {
		window := time.Duration(e.dedupSecs) * time.Second
		if window <= 0 {
			window = 5 * time.Minute
		}
		if event.Timestamp.Sub(last) < window {
			return
		}
	}
	e.lastSent[key] = event.Timestamp

	e.logger.Info("alert fired", "severity", event.Severity, "action", event.Decision.Action, "message", event.Message)

	for _, rule := range e.rules {
		if !event.Severity.atLeast(AlertLevel(rule.MinSeverity)) {
			continue
		}
		for _, chName := range rule.Channels {
			if ch, ok := e.channels[chName]; ok {
				go e.sendToChannel(ch, event)
			}
		}
	}
}

func (e *Engine) sendToChannel(ch config.NotificationChannel, event AlertEvent) {
	switch ch.Type {
	case "webhook", "slack", "discord", "ntfy":
		e.sendWebhook(ch, event)
	case "email":
		e.sendEmail(ch, event)
	default:
		e.logger.Warn("unsupported alert channel type", "type", ch.Type, "channel", ch.Name)
	}
}

func (e *Engine) sendWebhook(ch config.NotificationChannel, event AlertEvent) {
	if ch.URL == "" {
		e.logger.Warn("webhook URL missing for channel", "channel", ch.Name)
		return
	}

	var payload any
	switch ch.Type {
	case "slack":
		payload = map[string]string{"text": fmt.Sprintf("*%s*: %s", event.Severity, event.Message)}
	case "discord":
		payload = map[string]string{"content": fmt.Sprintf("**%s**: %s", event.Severity, event.Message)}
	default: // generic webhook or ntfy
		payload = event
	}

	data, err := json.Marshal(payload)
	if err != nil {
		e.logger.Error("failed to marshal webhook payload", "error", err, "channel", ch.Name)
		return
	}

	req, err := http.NewRequest(http.MethodPost, ch.URL, bytes.NewReader(data))
	if err != nil {
		e.logger.Error("failed to create webhook request", "error", err, "channel", ch.Name)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		e.logger.Warn("webhook delivery failed", "channel", ch.Name, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		e.logger.Warn("webhook returned non-success status", "channel", ch.Name, "status", resp.StatusCode)
	}
}

func (e *Engine) sendEmail(ch config.NotificationChannel, event AlertEvent) {
	if ch.SMTPHost == "" || len(ch.Recipients) == 0 {
		e.logger.Warn("SMTP configuration missing for channel", "channel", ch.Name)
		return
	}

	auth := smtp.PlainAuth("", ch.SMTPUser, string(ch.SMTPPass), ch.SMTPHost)
	addr := fmt.Sprintf("%s:%d", ch.SMTPHost, ch.SMTPPort)

	subject := fmt.Sprintf("Aegis alert: %s", event.Decision.Action)
	body := fmt.Sprintf("Severity: %s\nMessage: %s\nSource: %s\nTime: %s\n",
		event.Severity, event.Message, event.Decision.Parameters.SrcAddr, event.Timestamp.Format(time.RFC3339))

	msg := []byte(fmt.Sprintf("To: %s\r\nSubject: %s\r\n\r\n%s",
		strings.Join(ch.Recipients, ","), subject, body))

	if err := smtp.SendMail(addr, auth, "aegis@localhost", ch.Recipients, msg); err != nil {
		e.logger.Warn("email delivery failed", "channel", ch.Name, "error", err)
	}
}

// Trigger enqueues an alert for a Decision, deriving severity from its
// action if the caller didn't already set one. Non-blocking: a full
// queue drops the event and logs it, rather than stalling the caller.
func (e *Engine) Trigger(event AlertEvent) {
	if event.Severity == "" {
		event.Severity = severityFor(event.Decision.Action)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case e.eventChan <- event:
	default:
		e.logger.Warn("alert queue full, dropping event", "decision_id", event.Decision.DecisionID)
	}
}

// GetHistory returns a copy of the alert history.
func (e *Engine) GetHistory() []AlertEvent {
	e.mu.RLock()
	defer e.mu.RUnlock()

	res := make([]AlertEvent, len(e.history))
	copy(res, e.history)
	return res
}

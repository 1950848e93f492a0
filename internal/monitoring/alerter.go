package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/unieasy/places-cli/internal/config"
	"github.com/unieasy/places-cli/internal/seed"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertUpstreamForbidden AlertType = "upstream_forbidden"
	AlertErrorRate         AlertType = "seed_error_rate"
	AlertNoResults         AlertType = "seed_no_results"
)

// minProcessedForRate keeps tiny runs from tripping the error-rate alert.
const minProcessedForRate = 5

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a finished seed run against configured thresholds and
// sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the run outcome and returns any alerts.
func (a *Alerter) Evaluate(tally seed.Tally, runErr error) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	if errors.Is(runErr, seed.ErrUpstreamForbidden) {
		alerts = append(alerts, Alert{
			Type:      AlertUpstreamForbidden,
			Severity:  "critical",
			Message:   "Places API rejected the configured key; seed run aborted",
			Details:   map[string]any{"error": runErr.Error(), "fetched": tally.Fetched},
			Timestamp: now,
		})
		return alerts
	}

	processed := tally.Inserted + tally.Updated + tally.Skipped + tally.Errors
	if processed >= minProcessedForRate && a.cfg.ErrorRateThreshold > 0 {
		rate := float64(tally.Errors) / float64(processed)
		if rate > a.cfg.ErrorRateThreshold {
			alerts = append(alerts, Alert{
				Type:     AlertErrorRate,
				Severity: "high",
				Message: fmt.Sprintf(
					"Seed write error rate %.1f%% exceeds threshold %.1f%% (%d errors / %d records)",
					rate*100, a.cfg.ErrorRateThreshold*100, tally.Errors, processed,
				),
				Details: map[string]any{
					"error_rate": rate,
					"threshold":  a.cfg.ErrorRateThreshold,
					"errors":     tally.Errors,
					"processed":  processed,
				},
				Timestamp: now,
			})
		}
	}

	if runErr == nil && tally.Fetched == 0 {
		alerts = append(alerts, Alert{
			Type:      AlertNoResults,
			Severity:  "warning",
			Message:   "Seed run fetched no places; upstream may be failing",
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}

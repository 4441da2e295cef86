package monitoring

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/optimal-systems/data/internal/config"
	"github.com/optimal-systems/data/internal/model"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertFailureRate AlertType = "failure_rate"
	AlertStageFailed AlertType = "stage_failed"
	AlertStale       AlertType = "stale_deploy"
)

// minFinishedForRate keeps a single failed run from tripping the rate alert.
const minFinishedForRate = 4

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a Snapshot against configured thresholds and posts
// breaches to a webhook.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *resty.Client
	log    *zap.Logger
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: resty.New().SetTimeout(10 * time.Second),
		log:    zap.L().With(zap.String("component", "monitoring")),
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *Snapshot) []Alert {
	var alerts []Alert
	now := snap.CollectedAt

	finished := snap.Complete + snap.Failed
	if finished >= minFinishedForRate && snap.FailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Stage failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
				snap.FailRate*100, a.cfg.FailureRateThreshold*100,
				snap.Failed, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.FailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.Failed,
				"finished":     finished,
			},
			Timestamp: now,
		})
	}

	staleAfter := time.Duration(a.cfg.StaleAfterHours) * time.Hour
	for _, s := range snap.Streams {
		if s.LastStatus == model.RunStatusFailed {
			alerts = append(alerts, Alert{
				Type:     AlertStageFailed,
				Severity: "high",
				Message:  fmt.Sprintf("%s %s: last %s stage failed: %s", s.Source, s.Kind, s.LastStage, s.LastError),
				Details: map[string]any{
					"source": s.Source,
					"kind":   s.Kind,
					"stage":  s.LastStage,
				},
				Timestamp: now,
			})
		}

		if staleAfter <= 0 {
			continue
		}
		switch {
		case s.LastDeployed == nil:
			alerts = append(alerts, Alert{
				Type:      AlertStale,
				Severity:  "medium",
				Message:   fmt.Sprintf("%s %s has never been deployed to prod", s.Source, s.Kind),
				Details:   map[string]any{"source": s.Source, "kind": s.Kind},
				Timestamp: now,
			})
		case now.Sub(*s.LastDeployed) > staleAfter:
			age := now.Sub(*s.LastDeployed).Round(time.Hour)
			alerts = append(alerts, Alert{
				Type:     AlertStale,
				Severity: "medium",
				Message:  fmt.Sprintf("%s %s last deployed %s ago (threshold %dh)", s.Source, s.Kind, age, a.cfg.StaleAfterHours),
				Details: map[string]any{
					"source":        s.Source,
					"kind":          s.Kind,
					"last_deployed": s.LastDeployed,
				},
				Timestamp: now,
			})
		}
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
			a.log.Error("failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		a.log.Info("alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	resp, err := a.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(alert).
		Post(a.cfg.WebhookURL)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	if resp.StatusCode() >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode())
	}
	return nil
}

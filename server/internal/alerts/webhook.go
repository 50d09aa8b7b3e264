package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// Webhook delivers batches to a Slack, Teams, PagerDuty or generic HTTP endpoint.
type Webhook struct {
	kind   string
	url    string
	client *http.Client
}

// NewWebhook returns a webhook notifier. kind is one of slack | teams | pagerduty | http.
func NewWebhook(kind, url string) (*Webhook, error) {
	switch kind {
	case "slack", "teams", "pagerduty", "http":
	default:
		return nil, errors.Newf("alerts: unknown webhook type %q", kind)
	}
	if url == "" {
		return nil, errors.Newf("alerts: %s webhook has no url", kind)
	}
	return &Webhook{
		kind:   kind,
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (w *Webhook) Name() string { return "webhook:" + w.kind }

func (w *Webhook) Notify(ctx context.Context, b *Batch) error {
	switch w.kind {
	case "slack":
		return w.sendSlack(ctx, b)
	case "teams":
		return w.sendTeams(ctx, b)
	default:
		return w.sendHTTP(ctx, b)
	}
}

func (w *Webhook) sendSlack(ctx context.Context, b *Batch) error {
	body, _ := json.Marshal(map[string]string{"text": summary(b)})
	return w.post(ctx, body)
}

func (w *Webhook) sendTeams(ctx context.Context, b *Batch) error {
	payload := map[string]interface{}{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": levelColor(highest(b)),
		"summary":    fmt.Sprintf("%d new, %d cleared alerts", len(b.New), len(b.Gone)),
		"title":      "NAS Alerts",
		"text":       summary(b),
	}
	body, _ := json.Marshal(payload)
	return w.post(ctx, body)
}

// httpAlert is the generic webhook representation of one alert.
type httpAlert struct {
	ID        string         `json:"id"`
	Klass     string         `json:"klass"`
	Level     string         `json:"level"`
	Title     string         `json:"title"`
	Formatted string         `json:"formatted"`
	Args      map[string]any `json:"args"`
	Datetime  time.Time      `json:"datetime"`
}

func (w *Webhook) sendHTTP(ctx context.Context, b *Batch) error {
	conv := func(as []*Alert) []httpAlert {
		out := make([]httpAlert, 0, len(as))
		for _, a := range as {
			out = append(out, httpAlert{
				ID:        a.ID,
				Klass:     a.Klass,
				Level:     a.Level.String(),
				Title:     a.Title(),
				Formatted: a.Formatted(),
				Args:      a.Args,
				Datetime:  a.Datetime,
			})
		}
		return out
	}
	body, err := json.Marshal(map[string]interface{}{
		"policy": b.Policy,
		"new":    conv(b.New),
		"gone":   conv(b.Gone),
	})
	if err != nil {
		return errors.Wrap(err, "encode webhook body")
	}
	return w.post(ctx, body)
}

func (w *Webhook) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "http post")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return errors.Newf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// summary renders a batch as plain text, one alert per line.
func summary(b *Batch) string {
	var sb strings.Builder
	for _, a := range b.New {
		fmt.Fprintf(&sb, "*%s* %s: %s\n", levelLabel(a.Level), a.Title(), a.Formatted())
	}
	for _, a := range b.Gone {
		fmt.Fprintf(&sb, "*[CLEARED]* %s: %s\n", a.Title(), a.Formatted())
	}
	return strings.TrimRight(sb.String(), "\n")
}

func highest(b *Batch) Level {
	var l Level
	for _, a := range b.New {
		if a.Level > l {
			l = a.Level
		}
	}
	return l
}

func levelLabel(l Level) string {
	return "[" + l.String() + "]"
}

func levelColor(l Level) string {
	switch l {
	case LevelCritical, LevelError:
		return "FF4F6A"
	case LevelWarning:
		return "FFAB40"
	default:
		return "00D4FF"
	}
}

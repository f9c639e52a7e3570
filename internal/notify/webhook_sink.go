package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stratumops/quotawarden/internal/config"
)

// WebhookSink posts notifications to arbitrary HTTP endpoints.
type WebhookSink struct {
	client     *http.Client
	urls       []string
	maxRetries int
}

func NewWebhookSink(cfg config.NotificationsConfig) *WebhookSink {
	if len(cfg.Webhooks) == 0 {
		return nil
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 1
	}
	return &WebhookSink{
		client:     &http.Client{Timeout: timeout},
		urls:       cfg.Webhooks,
		maxRetries: retries,
	}
}

func (s *WebhookSink) Deliver(ctx context.Context, n Notification, msg Message) error {
	if s == nil {
		return nil
	}

	body, err := json.Marshal(webhookPayload{
		Kind:        string(n.Kind),
		SubjectKind: n.SubjectKind,
		SubjectID:   n.SubjectID,
		Subject:     msg.Subject,
		Body:        msg.Body,
		Reason:      n.Reason,
		PerformedBy: n.PerformedBy,
		UsageCount:  n.UsageCount,
		UsageLimit:  n.UsageLimit,
		UsagePct:    n.UsagePct,
		Timestamp:   n.OccurredAt.UTC(),
	})
	if err != nil {
		return err
	}

	var errs []error
	for _, target := range s.urls {
		if strings.TrimSpace(target) == "" {
			continue
		}
		if err := s.postWithRetries(ctx, target, body); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", target, err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func (s *WebhookSink) postWithRetries(ctx context.Context, url string, body []byte) error {
	var lastErr error
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		if err := s.post(ctx, url, body); err != nil {
			lastErr = err
			delay := time.Duration(attempt) * 250 * time.Millisecond
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			continue
		}
		return nil
	}
	return lastErr
}

func (s *WebhookSink) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

type webhookPayload struct {
	Kind        string    `json:"kind"`
	SubjectKind string    `json:"subject_kind"`
	SubjectID   string    `json:"subject_id"`
	Subject     string    `json:"subject"`
	Body        string    `json:"body"`
	Reason      string    `json:"reason,omitempty"`
	PerformedBy string    `json:"performed_by,omitempty"`
	UsageCount  int64     `json:"usage_count"`
	UsageLimit  int32     `json:"usage_limit"`
	UsagePct    float64   `json:"usage_pct"`
	Timestamp   time.Time `json:"timestamp"`
}

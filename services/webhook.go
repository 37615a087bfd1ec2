package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"greenhouse/models"

	"go.uber.org/zap"
)

const userAgent = "greenhouse-service/1.0"

// WebhookPayload is the JSON body posted to the webhook channel.
type WebhookPayload struct {
	Title     string          `json:"title"`
	Message   string          `json:"message"`
	Severity  string          `json:"severity,omitempty"`
	AlertType string          `json:"alert_type,omitempty"`
	Kind      string          `json:"kind,omitempty"`
	Reading   *models.Reading `json:"reading,omitempty"`
	FiredAt   *time.Time      `json:"fired_at,omitempty"`
}

// WebhookChannel posts alerts as JSON to an HTTP endpoint.
type WebhookChannel struct {
	logger     *zap.Logger
	url        string
	httpClient *http.Client
}

func NewWebhookChannel(url string, logger *zap.Logger) *WebhookChannel {
	return &WebhookChannel{
		logger:     logger,
		url:        url,
		httpClient: &http.Client{},
	}
}

func (w *WebhookChannel) Name() string { return "webhook" }

func (w *WebhookChannel) Send(ctx context.Context, n Notification) error {
	payload := WebhookPayload{
		Title:   n.Title,
		Message: n.Body,
	}
	if e := n.Event; e != nil {
		payload.Severity = string(e.Severity)
		payload.AlertType = e.Type
		payload.Kind = string(e.Kind)
		payload.Reading = e.Reading
		payload.FiredAt = &e.FiredAt
	}

	return postJSON(ctx, w.httpClient, w.url, payload, nil)
}

// Actuator applies control commands to the greenhouse hardware.
type Actuator interface {
	Apply(ctx context.Context, cmd models.ControlCommand) error
}

// HTTPActuator forwards commands to the ESP32 control endpoint.
type HTTPActuator struct {
	logger     *zap.Logger
	endpoint   string
	httpClient *http.Client
}

func NewHTTPActuator(baseURL string, logger *zap.Logger) *HTTPActuator {
	return &HTTPActuator{
		logger:   logger,
		endpoint: fmt.Sprintf("%s/control", baseURL),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (a *HTTPActuator) Apply(ctx context.Context, cmd models.ControlCommand) error {
	if err := postJSON(ctx, a.httpClient, a.endpoint, cmd, nil); err != nil {
		a.logger.Error("Failed to forward control command",
			zap.String("url", a.endpoint),
			zap.String("intent", string(cmd.Intent())),
			zap.Error(err))
		return err
	}

	a.logger.Info("Control command forwarded",
		zap.String("url", a.endpoint),
		zap.String("intent", string(cmd.Intent())))
	return nil
}

// LogActuator only records commands; used when no device endpoint is set.
type LogActuator struct {
	logger *zap.Logger
}

func NewLogActuator(logger *zap.Logger) *LogActuator {
	return &LogActuator{logger: logger}
}

func (a *LogActuator) Apply(_ context.Context, cmd models.ControlCommand) error {
	a.logger.Info("Control command accepted (no actuator configured)",
		zap.String("intent", string(cmd.Intent())),
		zap.Any("command", cmd))
	return nil
}

// postJSON sends body as JSON and treats any non-2xx status as an error.
func postJSON(ctx context.Context, client *http.Client, url string, body interface{}, headers map[string]string) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	return checkStatus(resp)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("%s returned %s: %s", resp.Request.URL.Host, resp.Status, bytes.TrimSpace(snippet))
}

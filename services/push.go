package services

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	pushbulletURL = "https://api.pushbullet.com/v2/pushes"
	callMeBotURL  = "https://api.callmebot.com/whatsapp.php"
)

// PushbulletChannel sends notes through the Pushbullet API.
type PushbulletChannel struct {
	token      string
	endpoint   string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewPushbulletChannel(token string, logger *zap.Logger) *PushbulletChannel {
	return &PushbulletChannel{
		token:      token,
		endpoint:   pushbulletURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

func (p *PushbulletChannel) Name() string { return "pushbullet" }

func (p *PushbulletChannel) Send(ctx context.Context, n Notification) error {
	note := map[string]string{
		"type":  "note",
		"title": n.Title,
		"body":  n.Body,
	}
	if err := postJSON(ctx, p.httpClient, p.endpoint, note, map[string]string{"Access-Token": p.token}); err != nil {
		return fmt.Errorf("pushbullet: %w", err)
	}
	return nil
}

// WhatsAppChannel sends messages through the CallMeBot WhatsApp gateway.
type WhatsAppChannel struct {
	phone      string
	apiKey     string
	endpoint   string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewWhatsAppChannel(phone, apiKey string, logger *zap.Logger) *WhatsAppChannel {
	return &WhatsAppChannel{
		phone:      phone,
		apiKey:     apiKey,
		endpoint:   callMeBotURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

func (w *WhatsAppChannel) Name() string { return "whatsapp" }

func (w *WhatsAppChannel) Send(ctx context.Context, n Notification) error {
	text := strings.TrimSpace(n.Title + "\n" + n.Body)

	q := url.Values{}
	q.Set("phone", w.phone)
	q.Set("text", text)
	q.Set("apikey", w.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("whatsapp: failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp: failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return fmt.Errorf("whatsapp: %w", err)
	}
	return nil
}

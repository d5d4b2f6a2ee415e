package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultFCMEndpoint is the FCM HTTP send endpoint.
const DefaultFCMEndpoint = "https://fcm.googleapis.com/fcm/send"

// Notification is a single device push.
type Notification struct {
	Token string
	Title string
	Body  string
	Data  map[string]string
}

// Result is the provider's answer for one device.
type Result struct {
	MessageID string
	// Unregistered is set when the token is permanently invalid.
	Unregistered bool
	Error        string
}

// Sender delivers a notification to a device.
type Sender interface {
	Send(ctx context.Context, n Notification) (Result, error)
}

// FCMSender posts notifications to Firebase Cloud Messaging.
type FCMSender struct {
	endpoint  string
	serverKey string
	client    *http.Client
}

// NewFCMSender creates a sender. An empty endpoint uses DefaultFCMEndpoint.
func NewFCMSender(endpoint, serverKey string) *FCMSender {
	if endpoint == "" {
		endpoint = DefaultFCMEndpoint
	}
	return &FCMSender{
		endpoint:  endpoint,
		serverKey: serverKey,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

type fcmRequest struct {
	To           string            `json:"to"`
	Priority     string            `json:"priority"`
	Notification fcmNotification   `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
}

type fcmNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Sound string `json:"sound"`
}

type fcmResponse struct {
	Success int `json:"success"`
	Failure int `json:"failure"`
	Results []struct {
		MessageID string `json:"message_id"`
		Error     string `json:"error"`
	} `json:"results"`
}

// Send delivers n. Transport failures and non-2xx responses are errors;
// a per-device rejection is reported in Result.
func (s *FCMSender) Send(ctx context.Context, n Notification) (Result, error) {
	body, err := json.Marshal(fcmRequest{
		To:           n.Token,
		Priority:     "high",
		Notification: fcmNotification{Title: n.Title, Body: n.Body, Sound: "default"},
		Data:         n.Data,
	})
	if err != nil {
		return Result{}, fmt.Errorf("marshal fcm request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build fcm request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "key="+s.serverKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("fcm request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Result{}, fmt.Errorf("fcm returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var parsed fcmResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Result{}, fmt.Errorf("decode fcm response: %w", err)
	}
	if len(parsed.Results) == 0 {
		return Result{}, fmt.Errorf("fcm response has no results")
	}

	r := parsed.Results[0]
	switch r.Error {
	case "":
		return Result{MessageID: r.MessageID}, nil
	case "NotRegistered", "InvalidRegistration", "MismatchSenderId":
		return Result{Unregistered: true, Error: r.Error}, nil
	default:
		return Result{Error: r.Error}, nil
	}
}

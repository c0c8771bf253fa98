package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/venturekit/planner/internal/domain"
)

// HTTPClient is the planner API client over HTTP/JSON.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPClient creates a planner API client. The timeout bounds a
// single attempt; retries are the caller's concern.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type createSessionRequest struct {
	BusinessType string `json:"businessType"`
	TargetMarket string `json:"targetMarket"`
	Challenge    string `json:"challenge"`
	Message      string `json:"message,omitempty"`
}

type sendMessageRequest struct {
	Content string `json:"content"`
}

type apiErrorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// CreateSession opens a remote session seeded with the business context.
func (c *HTTPClient) CreateSession(ctx context.Context, bctx domain.BusinessContext, firstMessage string) (*SessionReply, error) {
	body := createSessionRequest{
		BusinessType: bctx.BusinessType,
		TargetMarket: bctx.TargetMarket,
		Challenge:    bctx.Challenge,
		Message:      firstMessage,
	}

	var reply SessionReply
	if err := c.post(ctx, "/v1/planner/sessions", body, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// SendMessage delivers one message to an existing session.
func (c *HTTPClient) SendMessage(ctx context.Context, sessionID, content string) (*SendReply, error) {
	path := "/v1/planner/sessions/" + url.PathEscape(sessionID) + "/messages"

	var reply SendReply
	if err := c.post(ctx, path, sendMessageRequest{Content: content}, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		// Context cancellation passes through so callers can tell a
		// user abort from a network fault.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return NewError(KindNetwork, 0, err.Error(), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return NewError(KindNetwork, 0, "reading response: "+err.Error(), err)
	}

	if resp.StatusCode != http.StatusOK {
		return classifyStatus(resp.StatusCode, respBody)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return NewError(KindServer, resp.StatusCode, "malformed response: "+err.Error(), err)
	}
	return nil
}

func classifyStatus(status int, body []byte) *Error {
	msg := string(body)
	var parsed apiErrorBody
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		msg = parsed.Error.Message
	}

	switch {
	case status == http.StatusPaymentRequired || status == http.StatusTooManyRequests:
		return NewError(KindQuota, status, msg, nil)
	case status >= 500:
		return NewError(KindServer, status, msg, nil)
	default:
		return NewError(KindServer, status, msg, nil)
	}
}

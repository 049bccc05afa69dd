// Package payment talks to the hosted-checkout payment provider.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrProvider is returned when the provider rejects a request or answers
	// with something unusable.
	ErrProvider = errors.New("payment provider error")
	// ErrInvalidRequest is returned before any call is made.
	ErrInvalidRequest = errors.New("invalid payment request")
)

// InitRequest asks the provider for a checkout link.
type InitRequest struct {
	Amount      int64 // major units, e.g. naira
	Currency    string
	Reference   string
	Email       string
	CallbackURL string
	Metadata    map[string]any
}

// InitResponse is what the user needs to pay.
type InitResponse struct {
	AuthorizationURL string
	Reference        string
	AccessCode       string
}

// Gateway issues payment links.
type Gateway interface {
	Initialize(ctx context.Context, req InitRequest) (*InitResponse, error)
}

// Client is a Paystack-style REST client.
type Client struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
}

// NewClient constructs a client. The caller bounds each call through ctx;
// timeout is an outer safety net on the transport.
func NewClient(baseURL, secretKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		secretKey:  secretKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type initializeBody struct {
	Amount      int64          `json:"amount"`
	Currency    string         `json:"currency,omitempty"`
	Reference   string         `json:"reference"`
	Email       string         `json:"email"`
	CallbackURL string         `json:"callback_url,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Initialize creates a transaction and returns its checkout URL. Amounts are
// sent in minor units (kobo for NGN).
func (c *Client) Initialize(ctx context.Context, req InitRequest) (*InitResponse, error) {
	if req.Amount <= 0 || req.Reference == "" || req.Email == "" {
		return nil, fmt.Errorf("%w: amount, reference and email are required", ErrInvalidRequest)
	}

	body := initializeBody{
		Amount:      MinorUnits(req.Amount),
		Currency:    req.Currency,
		Reference:   req.Reference,
		Email:       req.Email,
		CallbackURL: req.CallbackURL,
		Metadata:    req.Metadata,
	}

	var data struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
		Reference        string `json:"reference"`
	}
	if err := c.doPost(ctx, c.baseURL+"/transaction/initialize", body, &data); err != nil {
		return nil, err
	}
	if data.AuthorizationURL == "" {
		return nil, fmt.Errorf("%w: empty authorization url", ErrProvider)
	}
	if data.Reference == "" {
		data.Reference = req.Reference
	}

	return &InitResponse{
		AuthorizationURL: data.AuthorizationURL,
		Reference:        data.Reference,
		AccessCode:       data.AccessCode,
	}, nil
}

func (c *Client) doPost(ctx context.Context, endpoint string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.secretKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%w: http %d: undecodable body", ErrProvider, resp.StatusCode)
	}
	if resp.StatusCode >= 300 || !env.Status {
		return fmt.Errorf("%w: http %d: %s", ErrProvider, resp.StatusCode, env.Message)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

// CustomerEmail derives the placeholder e-mail the provider requires from a
// chat handle, e.g. "tg:42" becomes "tg-42@<domain>".
func CustomerEmail(handle, domain string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(handle) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	local := strings.Trim(b.String(), "-.")
	if local == "" {
		local = "customer"
	}
	if domain == "" {
		domain = "customers.invalid"
	}
	return local + "@" + domain
}

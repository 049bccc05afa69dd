package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Initialize(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/transaction/initialize", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":true,"message":"Authorization URL created","data":{"authorization_url":"https://checkout.example/abc","access_code":"abc","reference":"TRP-20250610-AAAA0001"}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "sk_test", time.Second)
	resp, err := c.Initialize(context.Background(), InitRequest{
		Amount:    20000,
		Currency:  "NGN",
		Reference: "TRP-20250610-AAAA0001",
		Email:     "tg-1@example.com",
		Metadata:  map[string]any{"passengers": 2},
	})
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.example/abc", resp.AuthorizationURL)
	assert.Equal(t, "TRP-20250610-AAAA0001", resp.Reference)

	assert.Equal(t, float64(2000000), got["amount"], "amount is sent in minor units")
	assert.Equal(t, "TRP-20250610-AAAA0001", got["reference"])
	assert.Equal(t, "NGN", got["currency"])
}

func TestClient_InitializeErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"rejected", http.StatusBadRequest, `{"status":false,"message":"Duplicate Transaction Reference"}`},
		{"status false", http.StatusOK, `{"status":false,"message":"nope"}`},
		{"no url", http.StatusOK, `{"status":true,"data":{}}`},
		{"garbage", http.StatusBadGateway, `<html>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewClient(srv.URL, "sk_test", time.Second)
			_, err := c.Initialize(context.Background(), InitRequest{Amount: 1, Reference: "R", Email: "a@b.c"})
			assert.ErrorIs(t, err, ErrProvider)
		})
	}
}

func TestClient_InitializeRespectsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk_test", 5*time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Initialize(ctx, InitRequest{Amount: 1, Reference: "R", Email: "a@b.c"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestClient_InitializeValidates(t *testing.T) {
	c := NewClient("http://127.0.0.1:0", "sk_test", time.Second)
	_, err := c.Initialize(context.Background(), InitRequest{Amount: 0, Reference: "R", Email: "a@b.c"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestCustomerEmail(t *testing.T) {
	assert.Equal(t, "tg-42@example.com", CustomerEmail("tg:42", "example.com"))
	assert.Equal(t, "alice@example.com", CustomerEmail("Alice", "example.com"))
	assert.Equal(t, "customer@customers.invalid", CustomerEmail("::", ""))
}

func TestWebhookSignature(t *testing.T) {
	body := []byte(`{"event":"charge.success","data":{"reference":"TRP-1","status":"success"}}`)
	sig := Sign("sk_test", body)

	assert.True(t, VerifySignature("sk_test", body, sig))
	assert.False(t, VerifySignature("sk_other", body, sig))
	assert.False(t, VerifySignature("sk_test", append(body, ' '), sig))
	assert.False(t, VerifySignature("sk_test", body, "not-hex"))
	assert.False(t, VerifySignature("", body, sig))

	ev, err := ParseEvent(body)
	require.NoError(t, err)
	assert.Equal(t, "TRP-1", ev.Data.Reference)
	assert.True(t, ev.Succeeded())

	_, err = ParseEvent([]byte(`{"event":"charge.success"}`))
	assert.Error(t, err)
}

func TestCharge_Matches(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"event":"charge.success","data":{"reference":"TRP-1","amount":2000000,"currency":"NGN"}}`))
	require.NoError(t, err)

	c := ev.Charge()
	assert.Equal(t, "TRP-1", c.Reference)
	assert.True(t, c.Matches(20000, "NGN"))
	assert.True(t, c.Matches(20000, "ngn"))
	assert.False(t, c.Matches(200, "NGN"), "major units must not be taken as minor")
	assert.False(t, c.Matches(20000, "USD"))
	assert.False(t, Charge{Reference: "TRP-1", Amount: 2000000}.Matches(20000, "NGN"))
}

package payment

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// SignatureHeader carries the hex HMAC-SHA512 of the raw callback body.
const SignatureHeader = "x-paystack-signature"

// EventChargeSuccess is the only event that completes a booking.
const EventChargeSuccess = "charge.success"

// Event is a provider callback.
type Event struct {
	Event string `json:"event"`
	Data  struct {
		Reference string `json:"reference"`
		Status    string `json:"status"`
		Amount    int64  `json:"amount"`
		Currency  string `json:"currency"`
	} `json:"data"`
}

// VerifySignature checks a callback body against its signature header.
func VerifySignature(secretKey string, body []byte, signature string) bool {
	if secretKey == "" || signature == "" {
		return false
	}
	want, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha512.New, []byte(secretKey))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), want)
}

// Sign returns the signature the provider would send for body.
func Sign(secretKey string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secretKey))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// ParseEvent decodes a callback body.
func ParseEvent(body []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("decode payment event: %w", err)
	}
	if ev.Event == "" || ev.Data.Reference == "" {
		return nil, fmt.Errorf("decode payment event: missing event or reference")
	}
	return &ev, nil
}

// Succeeded reports whether the event confirms a completed charge.
func (e *Event) Succeeded() bool {
	return e.Event == EventChargeSuccess && (e.Data.Status == "" || e.Data.Status == "success")
}

// Charge is a completed payment as the provider reports it.
type Charge struct {
	Reference string
	Amount    int64 // minor units
	Currency  string
}

// Charge returns the payment carried by the event.
func (e *Event) Charge() Charge {
	return Charge{Reference: e.Data.Reference, Amount: e.Data.Amount, Currency: e.Data.Currency}
}

// Matches reports whether the charge pays exactly amount, given in major
// units, in currency.
func (c Charge) Matches(amount int64, currency string) bool {
	return c.Amount == MinorUnits(amount) && strings.EqualFold(c.Currency, currency)
}

// MinorUnits converts a major-unit amount to the unit the provider charges in.
func MinorUnits(amount int64) int64 {
	return amount * 100
}

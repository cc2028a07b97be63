// Package services provides external service integrations and technical concerns like notifications and tokens
package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// signBody produces the signature the provider would attach to a delivery
func signBody(apiToken string, body []byte) string {
	secret := sha256.Sum256([]byte(apiToken))
	mac := hmac.New(sha256.New, secret[:])
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyWebhookSignature(t *testing.T) {
	client := NewCryptoPayClient("https://pay.example.test/api", "12345:TestToken", 5*time.Second)

	body := []byte(`{"update_id":1,"update_type":"invoice_paid","request_date":"2024-01-01T00:00:00Z","payload":{"invoice_id":77}}`)

	tests := []struct {
		name      string
		body      []byte
		signature string
		valid     bool
	}{
		{
			name:      "valid signature",
			body:      body,
			signature: signBody("12345:TestToken", body),
			valid:     true,
		},
		{
			name:      "signature from a different token",
			body:      body,
			signature: signBody("12345:OtherToken", body),
			valid:     false,
		},
		{
			name:      "body tampered after signing",
			body:      []byte(`{"update_id":2,"update_type":"invoice_paid","payload":{"invoice_id":78}}`),
			signature: signBody("12345:TestToken", body),
			valid:     false,
		},
		{
			name:      "empty signature",
			body:      body,
			signature: "",
			valid:     false,
		},
		{
			name:      "garbage signature",
			body:      body,
			signature: "not-hex-at-all",
			valid:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, client.VerifyWebhookSignature(tt.body, tt.signature))
		})
	}
}

func TestVerifyWebhookSignatureIsByteExact(t *testing.T) {
	client := NewCryptoPayClient("https://pay.example.test/api", "12345:TestToken", 5*time.Second)

	// Re-serializing JSON can reorder keys; the signature must be
	// computed over the raw bytes, so even a semantically identical
	// body with different whitespace fails.
	body := []byte(`{"update_id":1,"update_type":"invoice_paid"}`)
	reordered := []byte(`{"update_type":"invoice_paid","update_id":1}`)

	sig := signBody("12345:TestToken", body)
	assert.True(t, client.VerifyWebhookSignature(body, sig))
	assert.False(t, client.VerifyWebhookSignature(reordered, sig))
}

func TestCreateInvoice(t *testing.T) {
	var gotPath string
	var gotToken string
	var gotReq cryptoPayCreateInvoiceReq

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotToken = r.Header.Get("Crypto-Pay-API-Token")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"ok": true,
			"result": {
				"invoice_id": 528,
				"hash": "IVDoTcNBYEfk",
				"currency_type": "crypto",
				"asset": "USDT",
				"amount": "10.5",
				"bot_invoice_url": "https://t.me/CryptoBot?start=IVDoTcNBYEfk",
				"mini_app_invoice_url": "https://t.me/CryptoBot/app?startapp=invoice-IVDoTcNBYEfk",
				"status": "active",
				"created_at": "2024-01-01T00:00:00.000Z",
				"payload": "{\"kind\":\"deposit\"}"
			}
		}`))
	}))
	defer server.Close()

	client := NewCryptoPayClient(server.URL, "12345:TestToken", 5*time.Second)
	invoice, err := client.CreateInvoice(context.Background(), CreateInvoiceInput{
		Asset:       "USDT",
		Amount:      decimal.RequireFromString("10.5"),
		Description: "Balance top-up",
		Payload:     `{"kind":"deposit"}`,
		ExpiresIn:   3600,
	})
	require.NoError(t, err)
	require.NotNil(t, invoice)

	assert.Equal(t, "/createInvoice", gotPath)
	assert.Equal(t, "12345:TestToken", gotToken)
	assert.Equal(t, "USDT", gotReq.Asset)
	assert.Equal(t, "10.5", gotReq.Amount)
	assert.Equal(t, "crypto", gotReq.CurrencyType)
	assert.Equal(t, 3600, gotReq.ExpiresIn)
	assert.False(t, gotReq.AllowComments)
	assert.False(t, gotReq.AllowAnonymous)

	assert.Equal(t, int64(528), invoice.InvoiceID)
	assert.Equal(t, "USDT", invoice.Asset)
	assert.True(t, invoice.Amount.Equal(decimal.RequireFromString("10.5")))
	assert.Equal(t, ProviderInvoiceStatusActive, invoice.Status)
	assert.NotEmpty(t, invoice.BotInvoiceURL)
}

func TestCreateInvoiceProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok": false, "error": {"code": 400, "name": "ASSET_INVALID"}}`))
	}))
	defer server.Close()

	client := NewCryptoPayClient(server.URL, "12345:TestToken", 5*time.Second)
	invoice, err := client.CreateInvoice(context.Background(), CreateInvoiceInput{
		Asset:  "NOPE",
		Amount: decimal.NewFromInt(1),
	})
	require.Error(t, err)
	assert.Nil(t, invoice)
	assert.Contains(t, err.Error(), "ASSET_INVALID")
}

func TestDeleteInvoice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req cryptoPayDeleteInvoiceReq
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, int64(528), req.InvoiceID)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok": true, "result": true}`))
	}))
	defer server.Close()

	client := NewCryptoPayClient(server.URL, "12345:TestToken", 5*time.Second)
	deleted, err := client.DeleteInvoice(context.Background(), 528)
	require.NoError(t, err)
	assert.True(t, deleted)
}

func TestGetInvoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req cryptoPayGetInvoicesReq
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "528,529", req.InvoiceIDs)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"ok": true,
			"result": {
				"items": [
					{"invoice_id": 528, "asset": "USDT", "amount": "10.5", "status": "paid", "paid_amount": "10.5", "paid_asset": "USDT"},
					{"invoice_id": 529, "asset": "TON", "amount": "3", "status": "active"}
				]
			}
		}`))
	}))
	defer server.Close()

	client := NewCryptoPayClient(server.URL, "12345:TestToken", 5*time.Second)
	invoices, err := client.GetInvoices(context.Background(), []int64{528, 529}, "")
	require.NoError(t, err)
	require.Len(t, invoices, 2)

	assert.Equal(t, ProviderInvoiceStatusPaid, invoices[0].Status)
	require.NotNil(t, invoices[0].PaidAmount)
	assert.True(t, invoices[0].PaidAmount.Equal(decimal.RequireFromString("10.5")))
	assert.Equal(t, ProviderInvoiceStatusActive, invoices[1].Status)
	assert.Nil(t, invoices[1].PaidAmount)
}

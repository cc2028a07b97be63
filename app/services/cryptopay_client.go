package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// CryptoPayProviderName identifies the provider in stored webhook events
const CryptoPayProviderName = "crypto-pay"

// CryptoPaySignatureHeader carries the HMAC signature of a webhook delivery
const CryptoPaySignatureHeader = "crypto-pay-api-signature"

// CryptoPayClient talks to the Crypto Pay API.
// Docs: https://help.crypt.bot/crypto-pay-api
type CryptoPayClient struct {
	BaseURL    string
	APIToken   string
	HTTPClient *http.Client
	Timeout    time.Duration

	// SHA256 of the API token; webhook signatures are HMACs keyed with it
	secret []byte
}

// NewCryptoPayClient creates a client for the given API endpoint and token
func NewCryptoPayClient(baseURL, apiToken string, timeout time.Duration) *CryptoPayClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	secret := sha256.Sum256([]byte(apiToken))
	return &CryptoPayClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIToken:   apiToken,
		HTTPClient: &http.Client{Timeout: timeout},
		Timeout:    timeout,
		secret:     secret[:],
	}
}

func (c *CryptoPayClient) Name() string { return CryptoPayProviderName }

type cryptoPayError struct {
	Code int    `json:"code"`
	Name string `json:"name"`
}

type cryptoPayEnvelope struct {
	Ok     bool            `json:"ok"`
	Result json.RawMessage `json:"result"`
	Error  *cryptoPayError `json:"error"`
}

type cryptoPayCreateInvoiceReq struct {
	Asset          string `json:"asset"`
	Amount         string `json:"amount"`
	CurrencyType   string `json:"currency_type"`
	Description    string `json:"description,omitempty"`
	Payload        string `json:"payload,omitempty"`
	PaidBtnName    string `json:"paid_btn_name,omitempty"`
	PaidBtnURL     string `json:"paid_btn_url,omitempty"`
	ExpiresIn      int    `json:"expires_in,omitempty"`
	AllowComments  bool   `json:"allow_comments"`
	AllowAnonymous bool   `json:"allow_anonymous"`
}

// CreateInvoice registers a new invoice with the provider
func (c *CryptoPayClient) CreateInvoice(ctx context.Context, in CreateInvoiceInput) (*ProviderInvoice, error) {
	body := cryptoPayCreateInvoiceReq{
		Asset:          in.Asset,
		Amount:         in.Amount.String(),
		CurrencyType:   "crypto",
		Description:    in.Description,
		Payload:        in.Payload,
		PaidBtnName:    in.PaidBtnName,
		PaidBtnURL:     in.PaidBtnURL,
		ExpiresIn:      in.ExpiresIn,
		AllowComments:  in.AllowComments,
		AllowAnonymous: in.AllowAnonymous,
	}
	var invoice ProviderInvoice
	if err := c.postJSON(ctx, "/createInvoice", body, &invoice); err != nil {
		return nil, err
	}
	return &invoice, nil
}

type cryptoPayDeleteInvoiceReq struct {
	InvoiceID int64 `json:"invoice_id"`
}

// DeleteInvoice removes an unpaid invoice at the provider
func (c *CryptoPayClient) DeleteInvoice(ctx context.Context, invoiceID int64) (bool, error) {
	var deleted bool
	if err := c.postJSON(ctx, "/deleteInvoice", cryptoPayDeleteInvoiceReq{InvoiceID: invoiceID}, &deleted); err != nil {
		return false, err
	}
	return deleted, nil
}

type cryptoPayGetInvoicesReq struct {
	InvoiceIDs string `json:"invoice_ids,omitempty"`
	Status     string `json:"status,omitempty"`
	Count      int    `json:"count,omitempty"`
}

type cryptoPayGetInvoicesResp struct {
	Items []ProviderInvoice `json:"items"`
}

// GetInvoices fetches the provider's view of the given invoices
func (c *CryptoPayClient) GetInvoices(ctx context.Context, invoiceIDs []int64, status string) ([]ProviderInvoice, error) {
	ids := make([]string, 0, len(invoiceIDs))
	for _, id := range invoiceIDs {
		ids = append(ids, strconv.FormatInt(id, 10))
	}
	body := cryptoPayGetInvoicesReq{
		InvoiceIDs: strings.Join(ids, ","),
		Status:     status,
	}
	var out cryptoPayGetInvoicesResp
	if err := c.postJSON(ctx, "/getInvoices", body, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// VerifyWebhookSignature checks the delivery signature: the provider
// signs the raw body with HMAC-SHA256 keyed by SHA256(api token) and
// sends the hex digest in the signature header.
func (c *CryptoPayClient) VerifyWebhookSignature(body []byte, signature string) bool {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// postJSON calls one API method and decodes the result envelope
func (c *CryptoPayClient) postJSON(ctx context.Context, path string, payload any, out any) error {
	b, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Crypto-Pay-API-Token", c.APIToken)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env cryptoPayEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("crypto-pay: decode %s response: %w", path, err)
	}
	if !env.Ok {
		if env.Error != nil {
			return fmt.Errorf("crypto-pay: %s failed: %d %s", path, env.Error.Code, env.Error.Name)
		}
		return fmt.Errorf("crypto-pay: %s failed: status %d", path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(env.Result, out)
}

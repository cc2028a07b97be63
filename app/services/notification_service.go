// Package services provides external service integrations and technical concerns like notifications and tokens
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// NotificationService sends payment confirmations to customers over the chat platform
type NotificationService interface {
	SendPaymentNotice(ctx context.Context, chatID int64, text string) error
	NotifyDepositCredited(ctx context.Context, chatID int64, amount decimal.Decimal, asset string, newBalance decimal.Decimal, providerInvoiceID int64) error
	NotifyOrderPaid(ctx context.Context, chatID int64, orderUUID string, amount decimal.Decimal, asset string) error
	NotifyOrderRefunded(ctx context.Context, chatID int64, orderUUID string, amount decimal.Decimal, newBalance decimal.Decimal) error
}

// ChatProvider interface for delivering messages to a chat
type ChatProvider interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// NotificationServiceImpl implements NotificationService
type NotificationServiceImpl struct {
	chatProvider ChatProvider
}

// NewNotificationService creates a new notification service
func NewNotificationService(chatProvider ChatProvider) NotificationService {
	return &NotificationServiceImpl{
		chatProvider: chatProvider,
	}
}

// SendPaymentNotice delivers one message to the customer's chat
func (s *NotificationServiceImpl) SendPaymentNotice(ctx context.Context, chatID int64, text string) error {
	if s.chatProvider == nil {
		return fmt.Errorf("chat provider not configured")
	}

	return s.chatProvider.SendMessage(ctx, chatID, text)
}

// NotifyDepositCredited tells the customer their balance top-up landed
func (s *NotificationServiceImpl) NotifyDepositCredited(ctx context.Context, chatID int64, amount decimal.Decimal, asset string, newBalance decimal.Decimal, providerInvoiceID int64) error {
	text := "✅ Deposit Successful!\n\n" +
		fmt.Sprintf("💰 Amount: %s %s\n", amount.String(), asset) +
		fmt.Sprintf("💳 New balance: %s\n", newBalance.String()) +
		fmt.Sprintf("🆔 Invoice ID: %d", providerInvoiceID)

	return s.SendPaymentNotice(ctx, chatID, text)
}

// NotifyOrderPaid tells the customer their order payment was received
func (s *NotificationServiceImpl) NotifyOrderPaid(ctx context.Context, chatID int64, orderUUID string, amount decimal.Decimal, asset string) error {
	text := "✅ Order Payment Successful!\n\n" +
		fmt.Sprintf("📦 Order ID: %s\n", orderUUID) +
		fmt.Sprintf("💰 Paid: %s %s\n\n", amount.String(), asset) +
		"🚚 Your order is being processed!"

	return s.SendPaymentNotice(ctx, chatID, text)
}

// NotifyOrderRefunded tells the customer a refund was returned to their balance
func (s *NotificationServiceImpl) NotifyOrderRefunded(ctx context.Context, chatID int64, orderUUID string, amount decimal.Decimal, newBalance decimal.Decimal) error {
	text := "💰 Order Refunded\n\n" +
		fmt.Sprintf("📦 Order ID: %s\n", orderUUID) +
		fmt.Sprintf("↩️ Refunded to balance: %s\n", amount.String()) +
		fmt.Sprintf("💳 New balance: %s", newBalance.String())

	return s.SendPaymentNotice(ctx, chatID, text)
}

// TelegramChatProvider delivers messages through the Telegram Bot API
type TelegramChatProvider struct {
	apiBase    string
	botToken   string
	httpClient *http.Client
}

func NewTelegramChatProvider(apiBase, botToken string, timeout time.Duration) ChatProvider {
	return &TelegramChatProvider{
		apiBase:  apiBase,
		botToken: botToken,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type telegramSendMessageReq struct {
	ChatID int64  `json:"chat_id"`
	Text   string `json:"text"`
}

type telegramSendMessageResp struct {
	Ok          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
}

func (p *TelegramChatProvider) SendMessage(ctx context.Context, chatID int64, text string) error {
	body, err := json.Marshal(telegramSendMessageReq{ChatID: chatID, Text: text})
	if err != nil {
		return fmt.Errorf("failed to marshal sendMessage request: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", p.apiBase, p.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create sendMessage request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call chat API: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read chat API response: %w", err)
	}

	var result telegramSendMessageResp
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("failed to decode chat API response: %w", err)
	}

	if !result.Ok {
		return fmt.Errorf("chat API rejected message: %s", result.Description)
	}

	return nil
}

// SentChatMessage is one message captured by the mock provider
type SentChatMessage struct {
	ChatID int64
	Text   string
}

// MockChatProvider records messages instead of delivering them
type MockChatProvider struct {
	mu       sync.Mutex
	messages []SentChatMessage
	// FailNext makes the next SendMessage call return an error
	FailNext bool
}

func NewMockChatProvider() *MockChatProvider {
	return &MockChatProvider{}
}

func (p *MockChatProvider) SendMessage(ctx context.Context, chatID int64, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.FailNext {
		p.FailNext = false
		return fmt.Errorf("chat provider unavailable")
	}

	p.messages = append(p.messages, SentChatMessage{ChatID: chatID, Text: text})
	log.Printf("Chat message sent to %d: %s", chatID, text)
	return nil
}

// Messages returns a copy of everything sent so far
func (p *MockChatProvider) Messages() []SentChatMessage {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]SentChatMessage, len(p.messages))
	copy(out, p.messages)
	return out
}

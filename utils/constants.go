package utils

import (
	"time"
)

// Token and session time constants
const (
	// AccessTokenTTL is the time-to-live for access tokens (24 hours)
	AccessTokenTTL = 24 * time.Hour

	// AccessTokenTTLSeconds is the time-to-live for access tokens in seconds (86400 seconds = 24 hours)
	AccessTokenTTLSeconds = 86400

	// RefreshTokenTTL is the time-to-live for refresh tokens (7 days)
	RefreshTokenTTL = 7 * 24 * time.Hour
)

// CORS and security constants
const (
	// CORSMaxAge is the maximum age for CORS preflight requests (24 hours)
	CORSMaxAge = 86400
)

// Payment and invoice constants
const (
	// DefaultAsset is the crypto asset used when a request does not name one
	DefaultAsset = "USDT"

	// MinDepositAmount is the smallest accepted deposit (in asset units)
	MinDepositAmount = 1

	// MaxDepositAmount is the largest accepted deposit (in asset units)
	MaxDepositAmount = 10000

	// DepositInvoiceTTL is how long a deposit invoice stays payable
	DepositInvoiceTTL = time.Hour

	// OrderInvoiceTTL is how long an order-payment invoice stays payable
	OrderInvoiceTTL = 30 * time.Minute

	// ReplayGuardTTL is how long processed webhook delivery ids are remembered
	ReplayGuardTTL = 72 * time.Hour
)

// IsSupportedAsset reports whether the provider can invoice in the given asset
func IsSupportedAsset(asset string) bool {
	supportedAssets := map[string]bool{
		"USDT": true,
		"TON":  true,
		"BTC":  true,
		"ETH":  true,
		"LTC":  true,
		"BNB":  true,
		"TRX":  true,
		"USDC": true,
	}
	return supportedAssets[asset]
}

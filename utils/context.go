package utils

// ContextKey is the type for request-scoped context values
type ContextKey string

// Context keys set by handlers and read by flows and audit logging
const (
	RequestIDKey  ContextKey = "X-Request-ID"
	UserAgentKey  ContextKey = "User-Agent"
	IPAddressKey  ContextKey = "IP-Address"
	EndpointKey   ContextKey = "Endpoint"
	TimeoutKey    ContextKey = "Timeout"
	CancelFuncKey ContextKey = "Cancel-Func"
)

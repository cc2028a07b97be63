package dto

// BotDTO identifies the gateway bot account a session belongs to
type BotDTO struct {
	ID        uint   `json:"id"`
	UUID      string `json:"uuid"`
	Username  string `json:"username"`
	IsActive  *bool  `json:"is_active"`
	CreatedAt string `json:"created_at"`
}

// BotSessionDTO carries a freshly issued token pair
type BotSessionDTO struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
	CreatedAt    string `json:"created_at"`
}

// BotLoginRequest authenticates the shop gateway against this service
type BotLoginRequest struct {
	Username string `json:"username" validate:"required,min=3,max=255"`
	Password string `json:"password" validate:"required,min=8,max=100"`
}

// BotRefreshRequest exchanges an unexpired refresh token for a new pair
type BotRefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type BotLoginResponse struct {
	Bot     BotDTO        `json:"bot"`
	Session BotSessionDTO `json:"session"`
}

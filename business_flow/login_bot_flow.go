package businessflow

import (
	"context"
	"log"

	"github.com/amirphl/Kusanagi/app/dto"
	"github.com/amirphl/Kusanagi/app/services"
	"github.com/amirphl/Kusanagi/models"
	"github.com/amirphl/Kusanagi/repository"
	"github.com/amirphl/Kusanagi/utils"
	"golang.org/x/crypto/bcrypt"
)

// BotAuthFlow represents the bot authentication flow used by handlers
type BotAuthFlow interface {
	Verify(ctx context.Context, req *dto.BotLoginRequest, metadata *ClientMetadata) (*dto.BotLoginResponse, error)
	Refresh(ctx context.Context, refreshToken string, metadata *ClientMetadata) (*dto.BotLoginResponse, error)
}

type BotAuthFlowImpl struct {
	botRepo      repository.BotRepository
	auditRepo    repository.AuditLogRepository
	tokenService services.TokenService
}

func NewBotAuthFlow(botRepo repository.BotRepository, auditRepo repository.AuditLogRepository, tokenService services.TokenService) BotAuthFlow {
	return &BotAuthFlowImpl{
		botRepo:      botRepo,
		auditRepo:    auditRepo,
		tokenService: tokenService,
	}
}

func (bf *BotAuthFlowImpl) Verify(ctx context.Context, req *dto.BotLoginRequest, metadata *ClientMetadata) (*dto.BotLoginResponse, error) {
	if req == nil || len(req.Username) == 0 || len(req.Password) == 0 {
		return nil, NewBusinessError("BOT_LOGIN_VALIDATION_FAILED", "Bot login validation failed", ErrIncorrectPassword)
	}

	bot, err := bf.botRepo.ByUsername(ctx, req.Username)
	if err != nil {
		return nil, NewBusinessError("BOT_LOOKUP_FAILED", "Failed to lookup bot", err)
	}
	if bot == nil {
		bf.logLoginAttempt(ctx, req.Username, false, utils.ToPtr("bot not found"), metadata)
		return nil, NewBusinessError("BOT_NOT_FOUND", "Bot not found", ErrBotNotFound)
	}
	if !utils.IsTrue(bot.IsActive) {
		bf.logLoginAttempt(ctx, req.Username, false, utils.ToPtr("bot inactive"), metadata)
		return nil, NewBusinessError("BOT_INACTIVE", "Bot account is inactive", ErrBotInactive)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(bot.PasswordHash), []byte(req.Password)); err != nil {
		bf.logLoginAttempt(ctx, req.Username, false, utils.ToPtr("incorrect password"), metadata)
		return nil, NewBusinessError("BOT_INCORRECT_PASSWORD", "Incorrect password", ErrIncorrectPassword)
	}

	accessToken, refreshToken, err := bf.tokenService.GenerateBotTokens(bot.ID)
	if err != nil {
		return nil, NewBusinessError("TOKEN_GENERATION_FAILED", "Failed to generate tokens", err)
	}

	// Best effort; a failed stamp never blocks the login
	bot.LastLoginAt = utils.ToPtr(utils.UTCNow())
	bot.UpdatedAt = utils.UTCNow()
	if err := bf.botRepo.Update(ctx, bot); err != nil {
		log.Printf("bot auth: failed to stamp last login for %s: %v", bot.Username, err)
	}

	bf.logLoginAttempt(ctx, req.Username, true, nil, metadata)

	resp := &dto.BotLoginResponse{
		Bot:     ToBotDTO(*bot),
		Session: ToBotSessionDTO(accessToken, refreshToken),
	}
	return resp, nil
}

func (bf *BotAuthFlowImpl) Refresh(ctx context.Context, refreshToken string, metadata *ClientMetadata) (*dto.BotLoginResponse, error) {
	if len(refreshToken) == 0 {
		return nil, NewBusinessError("BOT_REFRESH_VALIDATION_FAILED", "Refresh token is required", services.ErrTokenInvalid)
	}

	claims, err := bf.tokenService.ValidateBotToken(refreshToken)
	if err != nil {
		return nil, NewBusinessError("BOT_REFRESH_TOKEN_INVALID", "Invalid refresh token", err)
	}

	bot, err := bf.botRepo.ByID(ctx, claims.BotID)
	if err != nil {
		return nil, NewBusinessError("BOT_LOOKUP_FAILED", "Failed to lookup bot", err)
	}
	if bot == nil {
		return nil, NewBusinessError("BOT_NOT_FOUND", "Bot not found", ErrBotNotFound)
	}
	if !utils.IsTrue(bot.IsActive) {
		return nil, NewBusinessError("BOT_INACTIVE", "Bot account is inactive", ErrBotInactive)
	}

	newAccessToken, newRefreshToken, err := bf.tokenService.RefreshBotToken(refreshToken)
	if err != nil {
		return nil, NewBusinessError("TOKEN_GENERATION_FAILED", "Failed to refresh tokens", err)
	}

	resp := &dto.BotLoginResponse{
		Bot:     ToBotDTO(*bot),
		Session: ToBotSessionDTO(newAccessToken, newRefreshToken),
	}
	return resp, nil
}

func (bf *BotAuthFlowImpl) logLoginAttempt(ctx context.Context, username string, success bool, errMsg *string, metadata *ClientMetadata) {
	action := models.AuditActionBotLoginFailed
	description := "Bot login failed for " + username
	if success {
		action = models.AuditActionBotLoginSuccessful
		description = "Bot login successful for " + username
	}
	_ = logAuditEvent(ctx, bf.auditRepo, nil, action, description, success, errMsg, metadata)
}

// Package tests contains integration tests for bot authentication
package tests

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/Kusanagi/app/dto"
	"github.com/amirphl/Kusanagi/app/services"
	businessflow "github.com/amirphl/Kusanagi/business_flow"
	"github.com/amirphl/Kusanagi/models"
	"github.com/amirphl/Kusanagi/repository"
	testingutil "github.com/amirphl/Kusanagi/testing"
	"github.com/amirphl/Kusanagi/utils"
)

func TestBotAuthFlow(t *testing.T) {
	err := testingutil.TestWithDB(func(testDB *testingutil.TestDB) error {
		fixtures := testingutil.NewTestFixtures(testDB)

		botRepo := repository.NewBotRepository(testDB.DB)
		auditRepo := repository.NewAuditLogRepository(testDB.DB)

		tokenService, err := services.NewTokenService(
			1*time.Hour,
			24*time.Hour,
			"test-issuer",
			"test-audience",
			false,
			"",
			"",
			"test-secret-key-for-bot-auth-flow-tests",
		)
		require.NoError(t, err)

		botAuthFlow := businessflow.NewBotAuthFlow(botRepo, auditRepo, tokenService)
		metadata := businessflow.NewClientMetadata("127.0.0.1", "Test User Agent")

		// loginAudited reports whether an audit row with the given action
		// mentions the bot's username
		loginAudited := func(t *testing.T, action, username string) bool {
			audits, err := auditRepo.ByFilter(context.Background(), models.AuditLogFilter{
				Action: &action,
			}, "", 0, 0)
			require.NoError(t, err)
			for _, a := range audits {
				if a.Description != nil && strings.Contains(*a.Description, username) {
					return true
				}
			}
			return false
		}

		t.Run("VerifyIssuesSession", func(t *testing.T) {
			bot, err := fixtures.CreateTestBot("SomePass123!")
			require.NoError(t, err)

			resp, err := botAuthFlow.Verify(context.Background(), &dto.BotLoginRequest{
				Username: bot.Username,
				Password: "SomePass123!",
			}, metadata)
			require.NoError(t, err)
			require.NotNil(t, resp)

			// Bot identity comes back alongside the session
			assert.Equal(t, bot.ID, resp.Bot.ID)
			assert.Equal(t, bot.UUID.String(), resp.Bot.UUID)
			assert.Equal(t, bot.Username, resp.Bot.Username)
			require.NotNil(t, resp.Bot.IsActive)
			assert.True(t, *resp.Bot.IsActive)

			// Session carries a distinct access/refresh pair
			assert.NotEmpty(t, resp.Session.AccessToken)
			assert.NotEmpty(t, resp.Session.RefreshToken)
			assert.NotEqual(t, resp.Session.AccessToken, resp.Session.RefreshToken)
			assert.Equal(t, "Bearer", resp.Session.TokenType)
			assert.Equal(t, int64(utils.AccessTokenTTLSeconds), resp.Session.ExpiresIn)

			// The issued access token validates back to this bot
			claims, err := tokenService.ValidateBotToken(resp.Session.AccessToken)
			require.NoError(t, err)
			assert.Equal(t, bot.ID, claims.BotID)

			// Login stamps the last login time
			stamped, err := botRepo.ByID(context.Background(), bot.ID)
			require.NoError(t, err)
			require.NotNil(t, stamped)
			require.NotNil(t, stamped.LastLoginAt)

			assert.True(t, loginAudited(t, models.AuditActionBotLoginSuccessful, bot.Username))
		})

		t.Run("WrongPasswordRejected", func(t *testing.T) {
			bot, err := fixtures.CreateTestBot("CorrectHorse9!")
			require.NoError(t, err)

			resp, err := botAuthFlow.Verify(context.Background(), &dto.BotLoginRequest{
				Username: bot.Username,
				Password: "wrong-password",
			}, metadata)
			assert.Error(t, err)
			assert.Nil(t, resp)
			assert.True(t, businessflow.IsIncorrectPassword(err))

			assert.True(t, loginAudited(t, models.AuditActionBotLoginFailed, bot.Username))
		})

		t.Run("UnknownBotRejected", func(t *testing.T) {
			resp, err := botAuthFlow.Verify(context.Background(), &dto.BotLoginRequest{
				Username: "no-such-bot",
				Password: "whatever123",
			}, metadata)
			assert.Error(t, err)
			assert.Nil(t, resp)
			assert.True(t, businessflow.IsBotNotFound(err))

			assert.True(t, loginAudited(t, models.AuditActionBotLoginFailed, "no-such-bot"))
		})

		t.Run("InactiveBotRejected", func(t *testing.T) {
			bot, err := fixtures.CreateTestBot("StillValid88!")
			require.NoError(t, err)

			bot.IsActive = utils.ToPtr(false)
			err = botRepo.Update(context.Background(), bot)
			require.NoError(t, err)

			// Correct password does not help a disabled bot
			resp, err := botAuthFlow.Verify(context.Background(), &dto.BotLoginRequest{
				Username: bot.Username,
				Password: "StillValid88!",
			}, metadata)
			assert.Error(t, err)
			assert.Nil(t, resp)
			assert.True(t, businessflow.IsBotInactive(err))
		})

		t.Run("EmptyCredentialsRejected", func(t *testing.T) {
			requests := []*dto.BotLoginRequest{
				nil,
				{Username: "", Password: "secret123"},
				{Username: "some-bot", Password: ""},
			}

			for _, req := range requests {
				resp, err := botAuthFlow.Verify(context.Background(), req, metadata)
				assert.Error(t, err)
				assert.Nil(t, resp)
				assert.True(t, businessflow.IsIncorrectPassword(err))
			}
		})

		t.Run("RefreshRotatesTokens", func(t *testing.T) {
			bot, err := fixtures.CreateTestBot("RefreshMe456!")
			require.NoError(t, err)

			login, err := botAuthFlow.Verify(context.Background(), &dto.BotLoginRequest{
				Username: bot.Username,
				Password: "RefreshMe456!",
			}, metadata)
			require.NoError(t, err)

			refreshed, err := botAuthFlow.Refresh(context.Background(), login.Session.RefreshToken, metadata)
			require.NoError(t, err)
			require.NotNil(t, refreshed)

			assert.Equal(t, bot.ID, refreshed.Bot.ID)
			assert.Equal(t, bot.Username, refreshed.Bot.Username)

			// A fresh pair comes back
			assert.NotEmpty(t, refreshed.Session.AccessToken)
			assert.NotEmpty(t, refreshed.Session.RefreshToken)
			assert.NotEqual(t, login.Session.AccessToken, refreshed.Session.AccessToken)
			assert.NotEqual(t, login.Session.RefreshToken, refreshed.Session.RefreshToken)

			claims, err := tokenService.ValidateBotToken(refreshed.Session.AccessToken)
			require.NoError(t, err)
			assert.Equal(t, bot.ID, claims.BotID)
		})

		t.Run("RefreshRejectsAccessToken", func(t *testing.T) {
			bot, err := fixtures.CreateTestBot("AccessOnly77!")
			require.NoError(t, err)

			login, err := botAuthFlow.Verify(context.Background(), &dto.BotLoginRequest{
				Username: bot.Username,
				Password: "AccessOnly77!",
			}, metadata)
			require.NoError(t, err)

			// Only refresh tokens may mint new sessions
			resp, err := botAuthFlow.Refresh(context.Background(), login.Session.AccessToken, metadata)
			assert.Error(t, err)
			assert.Nil(t, resp)
		})

		t.Run("RefreshRejectsGarbage", func(t *testing.T) {
			resp, err := botAuthFlow.Refresh(context.Background(), "not-a-jwt-at-all", metadata)
			assert.Error(t, err)
			assert.Nil(t, resp)
			assert.True(t, errors.Is(err, services.ErrTokenInvalid))
		})

		t.Run("RefreshRejectsEmptyToken", func(t *testing.T) {
			resp, err := botAuthFlow.Refresh(context.Background(), "", metadata)
			assert.Error(t, err)
			assert.Nil(t, resp)
			assert.True(t, errors.Is(err, services.ErrTokenInvalid))
		})

		t.Run("RefreshRejectsInactiveBot", func(t *testing.T) {
			bot, err := fixtures.CreateTestBot("WasActive321!")
			require.NoError(t, err)

			login, err := botAuthFlow.Verify(context.Background(), &dto.BotLoginRequest{
				Username: bot.Username,
				Password: "WasActive321!",
			}, metadata)
			require.NoError(t, err)

			// Deactivating the bot invalidates its outstanding refresh token
			bot.IsActive = utils.ToPtr(false)
			err = botRepo.Update(context.Background(), bot)
			require.NoError(t, err)

			resp, err := botAuthFlow.Refresh(context.Background(), login.Session.RefreshToken, metadata)
			assert.Error(t, err)
			assert.Nil(t, resp)
			assert.True(t, businessflow.IsBotInactive(err))
		})

		return nil
	})
	require.NoError(t, err)
}

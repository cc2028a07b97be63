// Package handlers contains HTTP request handlers and presentation layer logic for the API endpoints
package handlers

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/amirphl/Kusanagi/app/middleware"
	businessflow "github.com/amirphl/Kusanagi/business_flow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

func getValidationErrorMessage(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return err.Field() + " is required"
	case "min":
		return err.Field() + " must be at least " + err.Param() + " characters"
	case "max":
		return err.Field() + " must be at most " + err.Param() + " characters"
	case "len":
		return err.Field() + " must be exactly " + err.Param() + " characters"
	case "oneof":
		return err.Field() + " must be one of: " + err.Param()
	case "uuid4":
		return err.Field() + " must be a valid UUID"
	case "uppercase":
		return err.Field() + " must be uppercase"
	case "numeric":
		return err.Field() + " must contain only numbers"
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", err.Field(), err.Param())
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", err.Field(), err.Param())
	default:
		return err.Field() + " is invalid"
	}
}

// formatValidationErrors flattens validator errors into response detail strings
func formatValidationErrors(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	messages := make([]string, 0, len(verrs))
	for _, ferr := range verrs {
		messages = append(messages, getValidationErrorMessage(ferr))
	}
	return messages
}

// parseChatID reads the customer chat id from the query string
func parseChatID(c fiber.Ctx) (int64, error) {
	chatID, err := strconv.ParseInt(c.Query("chat_id"), 10, 64)
	if err != nil || chatID == 0 {
		return 0, fmt.Errorf("invalid chat_id %q", c.Query("chat_id"))
	}
	return chatID, nil
}

// parseIntQuery reads an optional integer query parameter
func parseIntQuery(c fiber.Ctx, name string, fallback int) int {
	v := c.Query(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}

// clientMetadata builds flow metadata from the request, tagging the
// calling bot when the auth middleware identified one
func clientMetadata(c fiber.Ctx) *businessflow.ClientMetadata {
	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))
	if botID, ok := middleware.GetBotIDFromContext(c); ok {
		metadata.AddAdditional("bot_id", strconv.FormatUint(uint64(botID), 10))
	}
	return metadata
}

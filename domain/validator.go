package domain

import (
	"cursor-chat/errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ValidateParticipant checks a decoded presence record.
func ValidateParticipant(p Participant) error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrMalformedPayload, err)
	}
	return nil
}

// ValidateChatMessage checks a decoded or locally built chat message.
func ValidateChatMessage(m ChatMessage) error {
	if err := validate.Struct(m); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrMalformedPayload, err)
	}
	if strings.TrimSpace(m.Text) == "" {
		return fmt.Errorf("%w: blank message", errors.ErrMalformedPayload)
	}
	return nil
}

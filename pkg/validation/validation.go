// Package validation checks and sanitises operator input arriving over the
// telemetry transports.
package validation

import (
	"encoding/json"
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/opd-ai/go-dronesim/pkg/control"
	"github.com/opd-ai/go-dronesim/pkg/physics"
)

const (
	MaxMessageSize     = 64 * 1024 // 64KB max message
	MaxOperatorNameLen = 32
	MaxKeyCodeLen      = 32
	// Held keys auto-repeat, so the budget allows roughly 20 messages a second.
	MaxMessagesPerMin = 1200
)

var (
	validOperatorNameChars = regexp.MustCompile(`^[a-zA-Z0-9\s\-_.<>()]+$`)
	validKeyCode           = regexp.MustCompile(`^[A-Za-z0-9]+$`)
)

// MessageValidator validates raw messages and applies a per-client rate limit.
type MessageValidator struct {
	rateLimiter *RateLimiter
}

// NewMessageValidator creates a new message validator with rate limiting
func NewMessageValidator() *MessageValidator {
	return NewMessageValidatorWithLimit(MaxMessagesPerMin, time.Minute)
}

// NewMessageValidatorWithLimit creates a validator allowing maxMessages per window.
func NewMessageValidatorWithLimit(maxMessages int, window time.Duration) *MessageValidator {
	return &MessageValidator{
		rateLimiter: NewRateLimiter(maxMessages, window),
	}
}

// Close releases resources used by the message validator
func (v *MessageValidator) Close() {
	if v.rateLimiter != nil {
		v.rateLimiter.Close()
	}
}

// ValidateMessage checks the format of data and charges clientID one
// command.
func (v *MessageValidator) ValidateMessage(data []byte, clientID string) error {
	if err := v.ValidateFormat(data); err != nil {
		return err
	}
	return v.Charge(clientID)
}

// ValidateFormat checks size and JSON well-formedness without touching the
// rate limit.
func (v *MessageValidator) ValidateFormat(data []byte) error {
	if len(data) > MaxMessageSize {
		return fmt.Errorf("message too large: %d bytes (max %d)", len(data), MaxMessageSize)
	}
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON format")
	}
	return nil
}

// Charge spends one command from clientID's budget. Key releases are never
// charged: dropping one would leave the key held.
func (v *MessageValidator) Charge(clientID string) error {
	if !v.rateLimiter.Allow(clientID) {
		return fmt.Errorf("rate limit exceeded: max %d messages per window", v.rateLimiter.Limit())
	}
	return nil
}

// Forget drops the rate limiting state of a disconnected client.
func (v *MessageValidator) Forget(clientID string) {
	v.rateLimiter.Remove(clientID)
}

// ValidateOperatorName validates and sanitizes an operator display name
func ValidateOperatorName(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("operator name cannot be empty")
	}

	if len(name) > MaxOperatorNameLen {
		return "", fmt.Errorf("operator name too long: %d characters (max %d)", len(name), MaxOperatorNameLen)
	}

	if !utf8.ValidString(name) {
		return "", fmt.Errorf("operator name contains invalid UTF-8 characters")
	}

	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", fmt.Errorf("operator name cannot be only whitespace")
	}

	for _, r := range trimmed {
		if unicode.IsControl(r) {
			return "", fmt.Errorf("operator name contains control characters")
		}
	}

	if !validOperatorNameChars.MatchString(trimmed) {
		return "", fmt.Errorf("operator name contains invalid characters (only alphanumeric, spaces, hyphens, underscores, and basic punctuation allowed)")
	}

	return html.EscapeString(trimmed), nil
}

// ValidateKeyCode checks the shape of a KeyboardEvent.code style key name.
// Unknown but well-formed codes pass; the sampler ignores them.
func ValidateKeyCode(code string) error {
	if code == "" {
		return fmt.Errorf("key code cannot be empty")
	}
	if len(code) > MaxKeyCodeLen {
		return fmt.Errorf("key code too long: %d characters (max %d)", len(code), MaxKeyCodeLen)
	}
	if !validKeyCode.MatchString(code) {
		return fmt.Errorf("key code %q contains invalid characters", code)
	}
	return nil
}

// ValidateSteeringKey is ValidateKeyCode restricted to the eight steering keys.
func ValidateSteeringKey(code string) error {
	if err := ValidateKeyCode(code); err != nil {
		return err
	}
	if !control.IsDirectionKey(code) {
		return fmt.Errorf("key code %q is not a steering key", code)
	}
	return nil
}

// ValidateMode parses a requested flight mode.
func ValidateMode(mode string) (physics.Mode, error) {
	m, err := control.ParseMode(mode)
	if err != nil {
		return physics.ModeManual, fmt.Errorf("invalid mode %q: %w", mode, err)
	}
	return m, nil
}

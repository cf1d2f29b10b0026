// Package token validates the two credential shapes the dispatcher
// carries: the short-lived registration token and the long-lived agent
// token. Both are plain alphanumeric strings of a fixed size.
package token

import (
	"strconv"
	"unicode"

	agenterrors "github.com/doyler/faraday-agent-dispatcher/internal/errors"
)

const (
	RegistrationTokenSize = 25
	AgentTokenSize        = 64
)

// Validate fails when value is not alphanumeric or len(value) != size.
func Validate(field string, size int, value string) error {
	if !isAlnum(value) {
		return agenterrors.NewConfigError(field, "must be alphanumeric")
	}
	if len(value) != size {
		return agenterrors.NewConfigError(field, "must be "+strconv.Itoa(size)+" character length")
	}
	return nil
}

// ValidateRegistration checks the 25-char registration token. Unlike the
// agent token, it is required: an empty value fails.
func ValidateRegistration(field, value string) error {
	if value == "" {
		return agenterrors.NewConfigError(field, "option is required in the configuration file")
	}
	return Validate(field, RegistrationTokenSize, value)
}

// ValidateAgent checks the 64-char agent token. It is optional: an empty
// value (not yet registered) passes.
func ValidateAgent(field, value string) error {
	if value == "" {
		return nil
	}
	return Validate(field, AgentTokenSize, value)
}

func isAlnum(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

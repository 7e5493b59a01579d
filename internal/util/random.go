// Package util provides utility functions for the bot-bsl application.
package util

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"
)

// GenerateRandomHex generates a random hexadecimal string of the specified length.
// Uses math/rand/v2; entropy here is for identifiers, not cryptography.
func GenerateRandomHex(length int) string {
	if length <= 0 {
		return ""
	}
	const hexChars = "0123456789abcdef"
	var builder strings.Builder
	builder.Grow(length)
	for i := 0; i < length; i++ {
		builder.WriteByte(hexChars[rand.IntN(16)])
	}
	return builder.String()
}

// GenerateTaskID generates a queue task identifier combining the creation
// time with a random suffix, e.g. "task_1756600000000_3f9a2c".
func GenerateTaskID() string {
	return fmt.Sprintf("task_%d_%s", time.Now().UnixMilli(), GenerateRandomHex(6))
}

// GenerateRunID generates a flow run identifier with a "run_" prefix.
func GenerateRunID() string {
	return "run_" + uuid.NewString()
}

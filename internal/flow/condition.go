// Package flow implements the conversation graph interpreter.
package flow

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/dtalero78/bot-bsl-sub000/internal/models"
)

// ConditionEvaluator evaluates the predicate of a condition node against an
// execution context. All four operators compare case-insensitively; a
// malformed regex pattern is treated as a non-match, never an error.
type ConditionEvaluator struct{}

// resolveField maps a condition variable name to its context value through a
// small fixed alias table. Unresolved names evaluate against the empty string.
func (e *ConditionEvaluator) resolveField(variable string, ec *models.ExecutionContext) string {
	switch variable {
	case models.FieldUserMessage:
		return ec.Get(models.FieldUserMessage)
	case models.FieldResponse:
		return ec.Get(models.FieldResponse)
	case models.FieldAdminMessage:
		return ec.Get(models.FieldAdminMessage)
	case models.FieldUserResponse:
		// Alias kept for graphs authored against the old field name.
		if v := ec.Get(models.FieldUserResponse); v != "" {
			return v
		}
		return ec.Get(models.FieldUserMessage)
	default:
		return ec.Get(variable)
	}
}

// Evaluate applies the operator to the resolved field and comparison value.
func (e *ConditionEvaluator) Evaluate(variable string, op models.ConditionOperator, value string, ec *models.ExecutionContext) bool {
	field := strings.ToLower(e.resolveField(variable, ec))
	want := strings.ToLower(value)

	switch op {
	case models.OperatorEquals:
		return field == want
	case models.OperatorContains:
		return strings.Contains(field, want)
	case models.OperatorStartsWith:
		return strings.HasPrefix(field, want)
	case models.OperatorRegex:
		re, err := regexp.Compile("(?i)" + value)
		if err != nil {
			slog.Warn("ConditionEvaluator.Evaluate: malformed regex treated as non-match", "pattern", value, "error", err)
			return false
		}
		return re.MatchString(e.resolveField(variable, ec))
	default:
		slog.Warn("ConditionEvaluator.Evaluate: unknown operator", "operator", op)
		return false
	}
}

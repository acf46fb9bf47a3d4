package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// asAmanError resolves err to its structured form, unwrapping as needed.
// A plain error is wrapped as Internal when wrapIfPlain is set, and
// returned as nil otherwise so callers can fall back to err.Error().
func asAmanError(err error, wrapIfPlain bool) *AmanError {
	var ae *AmanError
	if errors.As(err, &ae) {
		return ae
	}
	if wrapIfPlain {
		return Wrap(ErrCodeInternal, err)
	}
	return nil
}

// FormatForUser returns a user-friendly error message suitable for the
// core's callers to surface verbatim; no stack traces or internal state
// leak through it. The debug flag does not change the output.
func FormatForUser(err error, debug bool) string {
	if err == nil {
		return ""
	}
	ae := asAmanError(err, false)
	if ae == nil {
		return err.Error()
	}

	var sb strings.Builder
	sb.WriteString("Error: ")
	sb.WriteString(ae.Message)
	sb.WriteString("\n")
	if ae.Suggestion != "" {
		sb.WriteString("\nSuggestion: ")
		sb.WriteString(ae.Suggestion)
		sb.WriteString("\n")
	}
	sb.WriteString(fmt.Sprintf("\n[%s]", ae.Code))
	return sb.String()
}

// FormatForCLI formats an error for terminal display: message, optional
// hint, and the stable code on separate indented lines.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}
	ae := asAmanError(err, true)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Error: %s\n", ae.Message)
	if ae.Suggestion != "" {
		fmt.Fprintf(&sb, "  Hint: %s\n", ae.Suggestion)
	}
	fmt.Fprintf(&sb, "  Code: %s\n", ae.Code)
	return sb.String()
}

// jsonError is the JSON representation of an error.
type jsonError struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Category   string            `json:"category"`
	Severity   string            `json:"severity"`
	Details    map[string]string `json:"details,omitempty"`
	Suggestion string            `json:"suggestion,omitempty"`
	Cause      string            `json:"cause,omitempty"`
	Retryable  bool              `json:"retryable"`
}

// FormatJSON returns a JSON representation of the error, suitable for
// machine consumption: the code is stable, the message human-readable.
func FormatJSON(err error) ([]byte, error) {
	if err == nil {
		return json.Marshal(nil)
	}
	ae := asAmanError(err, true)

	je := jsonError{
		Code:       ae.Code,
		Message:    ae.Message,
		Category:   string(ae.Category),
		Severity:   string(ae.Severity),
		Details:    ae.Details,
		Suggestion: ae.Suggestion,
		Retryable:  ae.Retryable,
	}
	if ae.Cause != nil {
		je.Cause = ae.Cause.Error()
	}
	return json.Marshal(je)
}

// FormatForLog flattens an error into key-value pairs for slog attributes.
func FormatForLog(err error) map[string]any {
	if err == nil {
		return nil
	}
	ae := asAmanError(err, false)
	if ae == nil {
		return map[string]any{"error": err.Error()}
	}

	result := map[string]any{
		"error_code": ae.Code,
		"message":    ae.Message,
		"category":   string(ae.Category),
		"severity":   string(ae.Severity),
		"retryable":  ae.Retryable,
	}
	if ae.Cause != nil {
		result["cause"] = ae.Cause.Error()
	}
	if ae.Suggestion != "" {
		result["suggestion"] = ae.Suggestion
	}
	for k, v := range ae.Details {
		result["detail_"+k] = v
	}
	return result
}

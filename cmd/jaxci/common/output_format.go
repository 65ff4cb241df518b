package common

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	OutputFormatPlain = "plain"
	OutputFormatJSON  = "json"
)

// ParseOutputFormat validates and normalizes output format values.
// Empty values default to plain output.
func ParseOutputFormat(raw string) (string, error) {
	normalized := strings.TrimSpace(strings.ToLower(raw))
	if normalized == "" {
		return OutputFormatPlain, nil
	}

	switch normalized {
	case OutputFormatPlain, OutputFormatJSON:
		return normalized, nil
	default:
		return "", fmt.Errorf("invalid output format %q (supported: %q, %q)", raw, OutputFormatPlain, OutputFormatJSON)
	}
}

// JSONCommandError is a command error rendered as json on stdout when the
// command runs with --output-format json.
type JSONCommandError struct {
	code     string
	message  string
	exitCode int
}

type JSONCommandErrorResponse struct {
	Error JSONCommandErrorPayload `json:"error"`
}

type JSONCommandErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewJSONCommandError(code string, message string, exitCode int) *JSONCommandError {
	if code == "" {
		code = "command_error"
	}
	if exitCode == 0 {
		exitCode = 1
	}
	return &JSONCommandError{
		code:     code,
		message:  message,
		exitCode: exitCode,
	}
}

func (e *JSONCommandError) Error() string {
	return e.message
}

func (e *JSONCommandError) ExitStatus() int {
	return e.exitCode
}

func (e *JSONCommandError) Response() JSONCommandErrorResponse {
	return JSONCommandErrorResponse{
		Error: JSONCommandErrorPayload{
			Code:    e.code,
			Message: e.message,
		},
	}
}

// WrapOutputError turns err into a *JSONCommandError in json mode.
// An *ExitError is passed through, it carries no message.
func WrapOutputError(outputFormat, code string, err error) error {
	if err == nil || outputFormat != OutputFormatJSON {
		return err
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return err
	}
	var jerr *JSONCommandError
	if errors.As(err, &jerr) {
		return jerr
	}
	return NewJSONCommandError(code, err.Error(), 1)
}

func WriteJSONToWriter(w io.Writer, v any) error {
	if w == nil {
		return errors.New("writer is nil")
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

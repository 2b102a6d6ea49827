package browser

import (
	"context"
	"errors"
	"strings"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

var (
	errMissingArg    = errors.New("missing required argument")
	errNoMatchByText = errors.New("no element found with matching text")
)

// ClassifyError maps a browser error to an ErrorCode. chromedp errors carry
// little structure, so this works on the message.
func ClassifyError(err error) schemas.ErrorCode {
	if err == nil {
		return ""
	}
	if errors.Is(err, errMissingArg) {
		return schemas.ErrCodeInvalidArguments
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "selector"),
		strings.Contains(msg, "no element found"),
		strings.Contains(msg, "could not find node"),
		strings.Contains(msg, "not visible"),
		strings.Contains(msg, "not interactable"):
		return schemas.ErrCodeElementNotFound
	case errors.Is(err, context.DeadlineExceeded), strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		return schemas.ErrCodeTimeoutError
	case strings.Contains(msg, "net::err"), strings.Contains(msg, "navigation"):
		return schemas.ErrCodeNavigationError
	}
	return schemas.ErrCodeExecutionFailure
}

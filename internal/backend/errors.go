package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error is a structured backend failure. It carries the raw status and
// reason for logging plus a translated message suitable for end users.
type Error struct {
	StatusCode int
	Reason     string
	Message    string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend error %d (%s): %s", e.StatusCode, e.Reason, e.Message)
	}
	return fmt.Sprintf("backend error %d (%s)", e.StatusCode, e.Reason)
}

// Retryable reports whether a fresh attempt could plausibly succeed.
// Timeouts, throttling, and server-side failures are retryable; everything
// the caller got wrong is not.
func (e *Error) Retryable() bool {
	switch e.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return e.StatusCode >= 500
}

// IsRetryable classifies any executor-facing error. Context deadline and
// transport errors without a status code count as retryable.
func IsRetryable(err error) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Retryable()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	// Transport-level failures (connection refused, reset) surface as plain
	// url.Error values.
	return err != nil && strings.Contains(err.Error(), "connection")
}

// UserMessage translates the failure into an actionable message for the end
// user. The raw reason is kept out of the conversation; it belongs in logs
// and the audit trail.
func (e *Error) UserMessage() string {
	msg := strings.ToLower(e.Message)

	switch e.StatusCode {
	case http.StatusBadRequest:
		if strings.Contains(msg, "invalid") {
			return "The request contains invalid data. Please check your resource name, namespace, and configuration parameters."
		}
		return "The request is not valid. Please verify all required parameters are provided correctly."

	case http.StatusUnauthorized:
		return "Your authentication session has expired. Please log in again to continue."

	case http.StatusForbidden:
		if strings.Contains(msg, "quota") {
			return "You have exceeded your resource quota. Please delete unused resources or request a quota increase from your administrator."
		}
		if strings.Contains(msg, "permission") {
			return "You don't have permission to perform this operation. Please contact your administrator to request access."
		}
		return "Access denied. You don't have permission to perform this operation on this resource. Contact your administrator if you believe this is an error."

	case http.StatusNotFound:
		if strings.Contains(msg, "namespace") {
			return "The specified project/namespace was not found. Please check the project name or create a new project first."
		}
		return "The requested resource was not found. Please verify the resource name and try again."

	case http.StatusConflict:
		if strings.Contains(msg, "already exists") {
			return "A resource with this name already exists. Please choose a different name or delete the existing resource first."
		}
		if strings.Contains(msg, "being deleted") {
			return "This resource is currently being deleted. Please wait a few moments and try again."
		}
		return "The operation conflicts with the current state of the resource. Please refresh and try again."

	case http.StatusUnprocessableEntity:
		if strings.Contains(msg, "validation") {
			return "The resource configuration is not valid. Please check that all required fields are provided and values are within acceptable ranges."
		}
		return "The resource configuration could not be processed. Please verify your configuration matches the required format."

	case http.StatusTooManyRequests:
		return "You have made too many requests. Please wait a few moments before trying again."

	case http.StatusInternalServerError:
		return "The platform encountered an internal error. Please try again in a few moments. If the problem persists, contact support."

	case http.StatusServiceUnavailable:
		return "The platform is temporarily unavailable. This is usually brief. Please try again in a few moments."
	}

	return fmt.Sprintf("Platform error: %s. Please try again or contact support.", e.Reason)
}

// UserMessageFor translates any execution failure with operation context.
// Non-backend errors get a generic message naming the operation and target.
func UserMessageFor(verb, resourceType, resourceName string, err error) string {
	var be *Error
	if errors.As(err, &be) {
		if msg := operationMessage(verb, resourceType, resourceName, strings.ToLower(be.Message)); msg != "" {
			return msg
		}
		return be.UserMessage()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("The %s of %s '%s' timed out. Please try again in a few moments.", verb, resourceType, resourceName)
	}
	return fmt.Sprintf("Failed to %s %s '%s'. Please verify the %s exists and you have permission to %s it.",
		verb, resourceType, resourceName, resourceType, verb)
}

func operationMessage(verb, resourceType, resourceName, msg string) string {
	switch verb {
	case "create":
		if strings.Contains(msg, "already exists") {
			return fmt.Sprintf("Cannot deploy '%s' because a %s with this name already exists. Please choose a different name or delete the existing %s.",
				resourceName, resourceType, resourceType)
		}
		if strings.Contains(msg, "quota") {
			return fmt.Sprintf("Cannot deploy '%s' due to insufficient resources. Please delete unused %ss or request additional capacity.",
				resourceName, resourceType)
		}
		if strings.Contains(msg, "image") && strings.Contains(msg, "pull") {
			return fmt.Sprintf("Cannot deploy '%s' because the model image could not be downloaded. Please verify the storage URI is accessible.",
				resourceName)
		}
	case "delete":
		if strings.Contains(msg, "not found") {
			return fmt.Sprintf("Cannot delete '%s' because it doesn't exist. It may have already been deleted.", resourceName)
		}
		if strings.Contains(msg, "protected") || strings.Contains(msg, "finalizer") {
			return fmt.Sprintf("Cannot delete '%s' because it's protected or has dependencies. Please remove dependent resources first.", resourceName)
		}
	case "patch":
		if strings.Contains(msg, "not found") {
			return fmt.Sprintf("Cannot update '%s' because it doesn't exist. Please deploy it first.", resourceName)
		}
		if strings.Contains(msg, "replica") {
			return fmt.Sprintf("Cannot scale '%s' to the requested replica count. Please choose a valid replica count between 0 and 10.", resourceName)
		}
	}
	return ""
}

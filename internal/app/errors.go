package app

import (
	"fmt"
	"net/http"
	"strings"
)

// DomainError is an error the HTTP layer returns to the caller as is.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func invalidField(field, message string) *DomainError {
	return &DomainError{
		Status:  http.StatusUnprocessableEntity,
		Code:    "VALIDATION_ERROR",
		Message: message,
		Details: map[string]string{"field": field},
	}
}

// unavailable reports an optional component that this deployment did not configure.
func unavailable(component string) *DomainError {
	return &DomainError{
		Status:  http.StatusServiceUnavailable,
		Code:    strings.ToUpper(component) + "_UNAVAILABLE",
		Message: strings.ToUpper(component[:1]) + component[1:] + " is not configured",
	}
}

func notFound(code, message string) *DomainError {
	return &DomainError{Status: http.StatusNotFound, Code: code, Message: message}
}

package common

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
)

var (
	// ErrNotFound is returned when a post, tag or user lookup has no match.
	ErrNotFound = errors.New("not found")

	// ErrForbidden is returned when the caller may not mutate the target.
	ErrForbidden = errors.New("forbidden")

	// ErrUnauthenticated is returned when a write path has no caller identity.
	ErrUnauthenticated = errors.New("unauthenticated")
)

const (
	forbiddenMessage       = "You do not have permission to perform this action."
	unauthenticatedMessage = "Authentication credentials were not provided."
)

// ValidationError carries one message per offending input field.
type ValidationError struct {
	Fields map[string]string
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: message}}
}

// Add records another field failure and returns the receiver for chaining.
func (e *ValidationError) Add(field, message string) *ValidationError {
	if e.Fields == nil {
		e.Fields = map[string]string{}
	}
	e.Fields[field] = message
	return e
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "validation error: " + strings.Join(parts, "; ")
}

// StatusFor maps an error from the domain packages onto an HTTP status.
func StatusFor(err error) int {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// RespondError writes err as a JSON body and aborts the request.
func RespondError(c *gin.Context, err error) {
	status := StatusFor(err)

	var verr *ValidationError
	switch status {
	case http.StatusBadRequest:
		errors.As(err, &verr)
		c.AbortWithStatusJSON(status, gin.H{"detail": "Invalid input.", "errors": verr.Fields})
	case http.StatusNotFound:
		c.AbortWithStatusJSON(status, gin.H{"detail": "Not found."})
	case http.StatusForbidden:
		c.AbortWithStatusJSON(status, gin.H{"detail": forbiddenMessage})
	case http.StatusUnauthorized:
		c.AbortWithStatusJSON(status, gin.H{"detail": unauthenticatedMessage})
	default:
		log.Printf("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
		c.AbortWithStatusJSON(status, gin.H{"detail": "Internal server error."})
	}
}

// Package oauth2err is the error vocabulary shared by every component of the
// engine. Each error carries an HTTP status and an OAuth2 error category, and
// may attach any number of underlying causes. Higher layers wrap lower-level
// errors with a contextual message instead of replacing them, so the full
// causal chain stays inspectable through errors.As / Unwrap.
package oauth2err

import (
	"fmt"
	"net/http"
	"strings"
)

// Category is the OAuth2 error category reported on the wire.
type Category string

const (
	InvalidRequest       Category = "invalid_request"
	UnsupportedGrantType Category = "unsupported_grant_type"
	InvalidGrant         Category = "invalid_grant"
	InvalidScope         Category = "invalid_scope"
	InvalidClaim         Category = "invalid_claim"
	UnauthorizedClient   Category = "unauthorized_client"
	InvalidClient        Category = "invalid_client"
	InternalServer       Category = "internal_server_error"
	InvalidToken         Category = "invalid_token"

	// Non-standard OIDC categories.
	InvalidUser        Category = "invalid_user"
	NotFound           Category = "resource_not_found"
	InvalidCredentials Category = "invalid_credentials"
)

var statusByCategory = map[Category]int{
	InvalidRequest:       http.StatusBadRequest,
	UnsupportedGrantType: http.StatusBadRequest,
	InvalidGrant:         http.StatusBadRequest,
	InvalidScope:         http.StatusBadRequest,
	InvalidClaim:         http.StatusBadRequest,
	UnauthorizedClient:   http.StatusBadRequest,
	InvalidClient:        http.StatusUnauthorized,
	InternalServer:       http.StatusBadRequest,
	InvalidToken:         http.StatusForbidden,
	InvalidUser:          http.StatusUnauthorized,
	NotFound:             http.StatusNotFound,
	InvalidCredentials:   http.StatusUnauthorized,
}

// Error is a categorized error with optional attached causes.
type Error struct {
	Category Category
	Message  string
	causes   []error
}

// New builds a categorized error with no cause.
func New(category Category, message string) *Error {
	return &Error{Category: category, Message: message}
}

// Newf is New with fmt.Sprintf semantics.
func Newf(category Category, format string, args ...any) *Error {
	return &Error{Category: category, Message: fmt.Sprintf(format, args...)}
}

// Wrap prefixes err with a contextual message. The wrapping error inherits the
// category (and therefore the status) of the first categorized error found in
// err's tree; uncategorized errors surface as internal_server_error since they
// indicate a defect rather than a client mistake.
func Wrap(err error, message string) *Error {
	if err == nil {
		return New(InternalServer, message)
	}
	cat := InternalServer
	if e := first(err); e != nil {
		cat = e.Category
	}
	return &Error{Category: cat, Message: message, causes: []error{err}}
}

// WrapAll attaches several independent causes (e.g. the settled errors of a
// concurrent join) under one contextual message.
func WrapAll(message string, errs ...error) *Error {
	kept := make([]error, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			kept = append(kept, err)
		}
	}
	cat := InternalServer
	for _, err := range kept {
		if e := first(err); e != nil {
			cat = e.Category
			break
		}
	}
	return &Error{Category: cat, Message: message, causes: kept}
}

func (e *Error) Error() string {
	if len(e.causes) == 0 {
		return e.Message
	}
	parts := make([]string, 0, len(e.causes)+1)
	parts = append(parts, e.Message)
	for _, cause := range e.causes {
		parts = append(parts, cause.Error())
	}
	return strings.Join(parts, ": ")
}

// Unwrap exposes the attached causes, making the error participate in
// errors.Is / errors.As tree walks.
func (e *Error) Unwrap() []error { return e.causes }

// Status reports the HTTP status associated with the error's category.
func (e *Error) Status() int {
	if s, ok := statusByCategory[e.Category]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// first returns the outermost *Error in err's tree, depth-first.
func first(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		return e
	}
	switch u := err.(type) {
	case interface{ Unwrap() error }:
		return first(u.Unwrap())
	case interface{ Unwrap() []error }:
		for _, cause := range u.Unwrap() {
			if e := first(cause); e != nil {
				return e
			}
		}
	}
	return nil
}

// Status reports the HTTP status of the first categorized error in err's
// tree, or 500 when none is found.
func Status(err error) int {
	if e := first(err); e != nil {
		return e.Status()
	}
	return http.StatusInternalServerError
}

// CategoryOf reports the category of the first categorized error in err's
// tree, or internal_server_error when none is found.
func CategoryOf(err error) Category {
	if e := first(err); e != nil {
		return e.Category
	}
	return InternalServer
}

// HasCategory reports whether any error in err's tree carries the category.
func HasCategory(err error, category Category) bool {
	if err == nil {
		return false
	}
	if e, ok := err.(*Error); ok && e.Category == category {
		return true
	}
	switch u := err.(type) {
	case interface{ Unwrap() error }:
		return HasCategory(u.Unwrap(), category)
	case interface{ Unwrap() []error }:
		for _, cause := range u.Unwrap() {
			if HasCategory(cause, category) {
				return true
			}
		}
	}
	return false
}

// Messages flattens err's tree into an ordered message list, outermost first.
// Transports typically render the first one or two entries.
func Messages(err error) []string {
	var out []string
	collect(err, &out)
	return out
}

func collect(err error, out *[]string) {
	if err == nil {
		return
	}
	if e, ok := err.(*Error); ok {
		*out = append(*out, e.Message)
		for _, cause := range e.causes {
			collect(cause, out)
		}
		return
	}
	*out = append(*out, err.Error())
	switch u := err.(type) {
	case interface{ Unwrap() error }:
		// The wrapped message is already part of err.Error(); stop here.
		_ = u
	case interface{ Unwrap() []error }:
		for _, cause := range u.Unwrap() {
			collect(cause, out)
		}
	}
}

package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrAuthServer      = errors.New("authorization server error")
	ErrDenied          = errors.New("authorization denied")
	ErrExpired         = errors.New("device code expired")
	ErrProtocol        = errors.New("device flow protocol error")
	ErrSessionConsumed = errors.New("device session already polled")
)

// AuthServerError is returned when the device authorization request fails,
// either with an HTTP error status or with a malformed response body.
type AuthServerError struct {
	StatusCode  int
	Code        string
	Description string
	Err         error
}

func (e *AuthServerError) Error() string {
	var b strings.Builder
	b.WriteString("device authorization failed")
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, " (%d)", e.StatusCode)
	}
	if e.Code != "" {
		b.WriteString(": ")
		b.WriteString(e.Code)
	}
	if e.Description != "" {
		b.WriteString(": ")
		b.WriteString(e.Description)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *AuthServerError) Unwrap() error { return e.Err }

func (e *AuthServerError) Is(target error) bool { return target == ErrAuthServer }

type DeniedError struct {
	Reason string
}

func (e *DeniedError) Error() string {
	if e.Reason == "" {
		return ErrDenied.Error()
	}
	return ErrDenied.Error() + ": " + e.Reason
}

func (e *DeniedError) Is(target error) bool { return target == ErrDenied }

// ExpiredError covers both a server-declared expired_token and the local
// session deadline passing.
type ExpiredError struct {
	Reason string
}

func (e *ExpiredError) Error() string {
	if e.Reason == "" {
		return ErrExpired.Error()
	}
	return ErrExpired.Error() + ": " + e.Reason
}

func (e *ExpiredError) Is(target error) bool { return target == ErrExpired }

// ProtocolError is returned when the token endpoint answers with an error code
// the device flow does not define, or with a response that cannot be
// interpreted at all.
type ProtocolError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *ProtocolError) Error() string {
	msg := ErrProtocol.Error()
	if e.Code != "" {
		msg += ": unexpected error code " + e.Code
	}
	if e.Description != "" {
		msg += ": " + e.Description
	}
	return msg
}

func (e *ProtocolError) Is(target error) bool { return target == ErrProtocol }

// UserMessage maps a device flow failure to the single line shown to the user.
func UserMessage(err error) string {
	var denied *DeniedError
	var expired *ExpiredError
	var protocol *ProtocolError
	var server *AuthServerError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &denied):
		return "Authorization was denied. Run 'ax login' to start a new login."
	case errors.As(err, &expired):
		return "The login code expired before it was approved. Run 'ax login' to get a new code."
	case errors.As(err, &protocol):
		return "The authorization server sent an unexpected response. Please try again later."
	case errors.As(err, &server):
		if server.Description != "" {
			return "Could not start the login: " + server.Description
		}
		if server.StatusCode > 0 {
			return fmt.Sprintf("Could not start the login: the authorization server answered %d %s.", server.StatusCode, http.StatusText(server.StatusCode))
		}
		return "Could not reach the authorization server."
	default:
		return err.Error()
	}
}

type oauthErrorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

func newAuthServerError(status int, body []byte) *AuthServerError {
	var payload oauthErrorBody
	if len(body) > 0 {
		_ = json.Unmarshal(body, &payload)
	}
	return &AuthServerError{
		StatusCode:  status,
		Code:        strings.TrimSpace(payload.Error),
		Description: strings.TrimSpace(payload.ErrorDescription),
	}
}

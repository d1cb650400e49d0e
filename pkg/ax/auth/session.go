package auth

import (
	"sync/atomic"
	"time"

	"golang.org/x/oauth2"
)

// DeviceSession is one device authorization attempt as issued by the
// authorization server. It is single use: once handed to a TokenPoller it
// cannot be polled again.
type DeviceSession struct {
	DeviceCode              string
	UserCode                string
	VerificationURI         string
	VerificationURIComplete string
	Interval                time.Duration
	ExpiresIn               time.Duration
	IssuedAt                time.Time

	claimed atomic.Bool
}

// Presentation is what the user needs to approve the login on another device.
type Presentation struct {
	UserCode                string `json:"userCode"`
	VerificationURI         string `json:"verificationUri"`
	VerificationURIComplete string `json:"verificationUriComplete"`
}

func (s *DeviceSession) Deadline() time.Time {
	return s.IssuedAt.Add(s.ExpiresIn)
}

func (s *DeviceSession) Presentation() Presentation {
	return Presentation{
		UserCode:                s.UserCode,
		VerificationURI:         s.VerificationURI,
		VerificationURIComplete: s.VerificationURIComplete,
	}
}

func (s *DeviceSession) claim() bool {
	return s.claimed.CompareAndSwap(false, true)
}

type State string

const (
	StatePending State = "pending"
	StateGranted State = "granted"
	StateDenied  State = "denied"
	StateExpired State = "expired"
)

// PollOutcome is the terminal result of polling a device session.
type PollOutcome struct {
	State        State
	AccessToken  string
	TokenType    string
	RefreshToken string
	IDToken      string
	Scope        string
	ExpiresIn    time.Duration
	GrantedAt    time.Time
	Reason       string
	Attempts     int
}

func (o *PollOutcome) Granted() bool {
	return o != nil && o.State == StateGranted
}

// Err returns nil for a granted outcome and the matching typed error for
// denied and expired ones.
func (o *PollOutcome) Err() error {
	if o == nil {
		return ErrProtocol
	}
	switch o.State {
	case StateGranted:
		return nil
	case StateDenied:
		return &DeniedError{Reason: o.Reason}
	case StateExpired:
		return &ExpiredError{Reason: o.Reason}
	default:
		return &ProtocolError{Description: "poll ended in state " + string(o.State)}
	}
}

// Token converts a granted outcome into an oauth2.Token. It returns nil for
// any other state.
func (o *PollOutcome) Token() *oauth2.Token {
	if !o.Granted() {
		return nil
	}
	token := &oauth2.Token{
		AccessToken:  o.AccessToken,
		TokenType:    o.TokenType,
		RefreshToken: o.RefreshToken,
	}
	if o.ExpiresIn > 0 {
		token.Expiry = o.GrantedAt.Add(o.ExpiresIn)
	}
	extra := map[string]any{}
	if o.IDToken != "" {
		extra["id_token"] = o.IDToken
	}
	if o.Scope != "" {
		extra["scope"] = o.Scope
	}
	if len(extra) > 0 {
		token = token.WithExtra(extra)
	}
	return token
}

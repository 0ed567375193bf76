// Package galaxy is a client for the Galaxy platform services: sign-in,
// encrypted app tickets and achievements. Results arrive asynchronously and
// are delivered to listeners from ProcessData, on the caller's goroutine.
package galaxy

import (
	"errors"
	"fmt"
)

// FailureReason explains why a request failed.
type FailureReason string

const (
	ReasonUndefined             FailureReason = "FAILURE_REASON_UNDEFINED"
	ReasonServiceNotAvailable   FailureReason = "FAILURE_REASON_GALAXY_SERVICE_NOT_AVAILABLE"
	ReasonServiceNotSignedIn    FailureReason = "FAILURE_REASON_GALAXY_SERVICE_NOT_SIGNED_IN"
	ReasonConnectionFailure     FailureReason = "FAILURE_REASON_CONNECTION_FAILURE"
	ReasonNoLicense             FailureReason = "FAILURE_REASON_NO_LICENSE"
	ReasonInvalidCredentials    FailureReason = "FAILURE_REASON_INVALID_CREDENTIALS"
	ReasonGalaxyNotInitialized  FailureReason = "FAILURE_REASON_GALAXY_NOT_INITIALIZED"
	ReasonExternalServiceFailed FailureReason = "FAILURE_REASON_EXTERNAL_SERVICE_FAILURE"
)

// InitOptions identifies the application to the platform.
type InitOptions struct {
	ClientID     string
	ClientSecret string
}

// AuthListener receives sign-in results.
type AuthListener interface {
	OnAuthSuccess()
	OnAuthFailure(reason FailureReason)
	OnAuthLost()
}

// TicketListener receives the result of RequestEncryptedAppTicket.
type TicketListener interface {
	OnTicketSuccess()
	OnTicketFailure(reason FailureReason)
}

// SDK is the platform surface the Lua plugin uses.
type SDK interface {
	Init(opts InitOptions) error
	Shutdown() error
	// ProcessData delivers pending results to listeners on the calling goroutine.
	ProcessData()

	SignIn(l AuthListener) error
	RemoveAuthListener(l AuthListener)
	SignedIn() bool
	IsLoggedOn() bool

	EncryptedAppTicket() ([]byte, error)
	RequestEncryptedAppTicket(data []byte, l TicketListener) error

	SetAchievement(name string) error
	StoreStatsAndAchievements() error
	RequestUserStatsAndAchievements() error
}

// Error is an error reported by the platform.
type Error struct {
	Name string
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Name, e.Msg)
}

var (
	ErrNotInitialized = &Error{Name: "InvalidStateError", Msg: "Galaxy Peer not initialized"}
	ErrNotSignedIn    = &Error{Name: "InvalidStateError", Msg: "user is not signed in"}
	ErrNoTicket       = &Error{Name: "InvalidStateError", Msg: "no encrypted app ticket has been retrieved"}
)

// AsError returns err as an *Error, wrapping foreign errors as "Error".
func AsError(err error) *Error {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr
	}
	return &Error{Name: "Error", Msg: err.Error()}
}

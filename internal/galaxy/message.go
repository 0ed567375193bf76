package galaxy

import (
	"github.com/oklog/ulid/v2"
)

// Message types exchanged with the platform.
const (
	TypeInit           = "init"
	TypeSignIn         = "signIn"
	TypeAuthSuccess    = "authSuccess"
	TypeAuthFailure    = "authFailure"
	TypeAuthLost       = "authLost"
	TypeRequestTicket  = "requestTicket"
	TypeTicket         = "ticket"
	TypeSetAchievement = "setAchievement"
	TypeStoreStats     = "storeStats"
	TypeRequestStats   = "requestStats"
	TypeStatsRetrieved = "statsRetrieved"
	TypeError          = "error"
)

// Message is one JSON frame on the platform websocket.
// Replies carry the ID of the request they answer.
type Message struct {
	Type         string        `json:"type"`
	ID           string        `json:"id,omitempty"`
	ClientID     string        `json:"clientId,omitempty"`
	ClientSecret string        `json:"clientSecret,omitempty"`
	Name         string        `json:"name,omitempty"`
	Data         []byte        `json:"data,omitempty"`
	Success      bool          `json:"success,omitempty"`
	Offline      bool          `json:"offline,omitempty"`
	Reason       FailureReason `json:"reason,omitempty"`
	Error        string        `json:"error,omitempty"`
}

func newID() string {
	return ulid.Make().String()
}

// Err returns the platform error an error message carries.
func (m Message) Err() *Error {
	name := m.Error
	if name == "" {
		name = "Error"
	}
	return &Error{Name: name, Msg: string(m.Reason)}
}

package bridge

import "bytes"

// Event names dispatched to script listeners.
const (
	AuthResponseName               = "authResponse"
	AuthLostName                   = "authLost"
	EncryptedAppTicketResponseName = "encryptedAppTicketResponse"
)

// Event is a snapshot of one native event. The set of variants is closed.
type Event interface {
	// Name is the event name script listeners subscribe to.
	Name() string

	// populate writes the event's fields into record.
	populate(rt Runtime, record Value)
}

// AuthResponse reports the outcome of a sign-in request.
type AuthResponse struct {
	Success bool
	Reason  string
}

// NewAuthResponse captures a sign-in outcome.
func NewAuthResponse(success bool, reason string) AuthResponse {
	return AuthResponse{Success: success, Reason: reason}
}

func (AuthResponse) Name() string { return AuthResponseName }

func (e AuthResponse) populate(rt Runtime, record Value) {
	rt.SetField(record, "isError", !e.Success)
	if !e.Success && e.Reason != "" {
		rt.SetField(record, "errorCode", e.Reason)
	}
}

// AuthLost reports that an authenticated session was lost.
type AuthLost struct{}

func (AuthLost) Name() string { return AuthLostName }

func (AuthLost) populate(rt Runtime, record Value) {
	rt.SetField(record, "isError", true)
}

// EncryptedAppTicketResponse reports the outcome of an encrypted app ticket request.
type EncryptedAppTicketResponse struct {
	Success bool
	Ticket  []byte
}

// NewEncryptedAppTicketResponse captures a ticket response. The ticket bytes
// are copied since the SDK may reuse its buffer once the callback returns.
func NewEncryptedAppTicketResponse(success bool, ticket []byte) EncryptedAppTicketResponse {
	return EncryptedAppTicketResponse{Success: success, Ticket: bytes.Clone(ticket)}
}

func (EncryptedAppTicketResponse) Name() string { return EncryptedAppTicketResponseName }

func (e EncryptedAppTicketResponse) populate(rt Runtime, record Value) {
	rt.SetField(record, "isError", !e.Success)
	if e.Success {
		rt.SetField(record, "ticket", string(e.Ticket))
	}
}

// EventTask is a queued Event bound to the Dispatcher it will be delivered through.
type EventTask struct {
	dispatcher *Dispatcher
	event      Event
}

// NewEventTask binds ev to d.
func NewEventTask(d *Dispatcher, ev Event) *EventTask {
	return &EventTask{dispatcher: d, event: ev}
}

// Event returns the captured event.
func (t *EventTask) Event() Event {
	return t.event
}

// Execute builds the event record and dispatches it without result.
// Returns false without side effects if no usable dispatcher is bound.
func (t *EventTask) Execute() bool {
	if t == nil || t.event == nil || t.dispatcher == nil {
		return false
	}
	rt := t.dispatcher.Runtime()
	if rt == nil {
		return false
	}
	record, err := protect(func() (Value, error) {
		record := rt.NewRecord(t.event.Name())
		if record != nil {
			t.event.populate(rt, record)
		}
		return record, nil
	})
	if err != nil || record == nil {
		return false
	}
	return t.dispatcher.DispatchWithoutResult(record)
}

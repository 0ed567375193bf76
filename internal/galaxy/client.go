package galaxy

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joeycumines/logiface"
)

// Client implements SDK over a websocket connection to the platform.
//
// A reader goroutine queues incoming messages; nothing reaches a listener
// until ProcessData is called.
type Client struct {
	url     string
	timeout time.Duration
	dialer  *websocket.Dialer
	log     *logiface.Logger[logiface.Event]

	writeMu sync.Mutex

	mu          sync.Mutex
	conn        *websocket.Conn
	readerDone  chan struct{}
	closing     bool
	inbox       []Message
	waiters     map[string]chan Message
	initialized bool
	signedIn    bool
	loggedOn    bool
	statsReady  bool
	ticket      []byte
	auth        []AuthListener
	tickets     map[string]TicketListener
}

var _ SDK = (*Client)(nil)

// NewClient creates a client for the platform websocket at url.
func NewClient(url string, timeout time.Duration, log *logiface.Logger[logiface.Event]) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		url:     url,
		timeout: timeout,
		dialer:  &websocket.Dialer{HandshakeTimeout: timeout},
		log:     log,
		waiters: make(map[string]chan Message),
		tickets: make(map[string]TicketListener),
	}
}

// Init connects to the platform and registers the application.
func (c *Client) Init(opts InitOptions) error {
	c.mu.Lock()
	if c.initialized {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	conn, _, err := c.dialer.Dial(c.url, nil)
	if err != nil {
		return &Error{Name: "IOError", Msg: fmt.Sprintf("connect %s: %v", c.url, err)}
	}

	c.mu.Lock()
	c.conn = conn
	c.closing = false
	c.readerDone = make(chan struct{})
	c.mu.Unlock()
	go c.readLoop(conn, c.readerDone)

	reply, err := c.roundTrip(Message{Type: TypeInit, ClientID: opts.ClientID, ClientSecret: opts.ClientSecret})
	if err == nil && reply.Type == TypeError {
		err = reply.Err()
	}
	if err != nil {
		c.disconnect()
		return err
	}

	c.mu.Lock()
	c.initialized = true
	c.mu.Unlock()
	c.log.Info().Str("url", c.url).Str("clientId", opts.ClientID).Log("galaxy: initialized")
	return nil
}

// Shutdown disconnects and forgets all session state.
func (c *Client) Shutdown() error {
	c.mu.Lock()
	initialized := c.initialized
	c.mu.Unlock()
	if !initialized {
		return ErrNotInitialized
	}
	c.disconnect()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.initialized = false
	c.signedIn = false
	c.loggedOn = false
	c.statsReady = false
	c.ticket = nil
	c.inbox = nil
	c.auth = nil
	clear(c.tickets)
	c.log.Info().Log("galaxy: shut down")
	return nil
}

func (c *Client) disconnect() {
	c.mu.Lock()
	conn, done := c.conn, c.readerDone
	c.closing = true
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return
	}
	c.writeMu.Lock()
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	_ = conn.Close()
	<-done
}

func (c *Client) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			c.mu.Lock()
			closing := c.closing
			if !closing {
				if c.signedIn {
					c.inbox = append(c.inbox, Message{Type: TypeAuthLost, Reason: ReasonConnectionFailure})
				}
				// the next Init dials again
				if c.conn == conn {
					c.conn = nil
				}
				c.initialized = false
			}
			for id, ch := range c.waiters {
				close(ch)
				delete(c.waiters, id)
			}
			c.mu.Unlock()
			if !closing {
				_ = conn.Close()
				c.log.Warning().Err(err).Log("galaxy: connection lost")
			}
			return
		}

		c.mu.Lock()
		if ch, ok := c.waiters[msg.ID]; ok && msg.ID != "" {
			delete(c.waiters, msg.ID)
			c.mu.Unlock()
			ch <- msg
			continue
		}
		c.inbox = append(c.inbox, msg)
		c.mu.Unlock()
	}
}

func (c *Client) send(msg Message) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotInitialized
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteJSON(msg); err != nil {
		return &Error{Name: "IOError", Msg: err.Error()}
	}
	return nil
}

// roundTrip sends msg and waits for the reply carrying its ID.
func (c *Client) roundTrip(msg Message) (Message, error) {
	msg.ID = newID()
	ch := make(chan Message, 1)
	c.mu.Lock()
	c.waiters[msg.ID] = ch
	c.mu.Unlock()

	drop := func() {
		c.mu.Lock()
		delete(c.waiters, msg.ID)
		c.mu.Unlock()
	}
	if err := c.send(msg); err != nil {
		drop()
		return Message{}, err
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case reply, ok := <-ch:
		if !ok {
			return Message{}, &Error{Name: "IOError", Msg: "connection closed"}
		}
		return reply, nil
	case <-timer.C:
		drop()
		return Message{}, &Error{Name: "TimeoutError", Msg: fmt.Sprintf("no reply to %s within %s", msg.Type, c.timeout)}
	}
}

// ProcessData delivers queued results to listeners.
func (c *Client) ProcessData() {
	c.mu.Lock()
	msgs := c.inbox
	c.inbox = nil
	c.mu.Unlock()

	for _, msg := range msgs {
		c.handle(msg)
	}
}

func (c *Client) handle(msg Message) {
	switch msg.Type {
	case TypeAuthSuccess:
		c.mu.Lock()
		c.signedIn = true
		c.loggedOn = !msg.Offline
		listeners := slices.Clone(c.auth)
		c.mu.Unlock()
		for _, l := range listeners {
			l.OnAuthSuccess()
		}

	case TypeAuthFailure:
		c.mu.Lock()
		c.signedIn = false
		c.loggedOn = false
		listeners := slices.Clone(c.auth)
		c.mu.Unlock()
		for _, l := range listeners {
			l.OnAuthFailure(msg.Reason)
		}

	case TypeAuthLost:
		c.mu.Lock()
		c.signedIn = false
		c.loggedOn = false
		listeners := slices.Clone(c.auth)
		c.mu.Unlock()
		for _, l := range listeners {
			l.OnAuthLost()
		}

	case TypeTicket:
		c.mu.Lock()
		l := c.tickets[msg.ID]
		delete(c.tickets, msg.ID)
		if msg.Success {
			c.ticket = bytes.Clone(msg.Data)
		}
		c.mu.Unlock()
		if l == nil {
			return
		}
		if msg.Success {
			l.OnTicketSuccess()
		} else {
			l.OnTicketFailure(msg.Reason)
		}

	case TypeStatsRetrieved:
		c.mu.Lock()
		c.statsReady = msg.Success
		c.mu.Unlock()
		c.log.Debug().Bool("success", msg.Success).Log("galaxy: user stats retrieved")

	case TypeError:
		gerr := msg.Err()
		c.mu.Lock()
		l := c.tickets[msg.ID]
		delete(c.tickets, msg.ID)
		c.mu.Unlock()
		if l != nil {
			l.OnTicketFailure(ReasonUndefined)
		}
		c.log.Warning().Str("name", gerr.Name).Str("msg", gerr.Msg).Log("galaxy: platform error")

	default:
		c.log.Debug().Str("type", msg.Type).Log("galaxy: ignoring message")
	}
}

// SignIn starts signing in; the result is delivered to l.
func (c *Client) SignIn(l AuthListener) error {
	if l == nil {
		return errors.New("galaxy: nil auth listener")
	}
	c.mu.Lock()
	if !c.initialized {
		c.mu.Unlock()
		return ErrNotInitialized
	}
	if !slices.Contains(c.auth, l) {
		c.auth = append(c.auth, l)
	}
	c.mu.Unlock()
	return c.send(Message{Type: TypeSignIn, ID: newID()})
}

// RemoveAuthListener stops delivering auth results to l.
func (c *Client) RemoveAuthListener(l AuthListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.auth = slices.DeleteFunc(c.auth, func(x AuthListener) bool { return x == l })
}

// SignedIn reports whether the user is signed in.
func (c *Client) SignedIn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.signedIn
}

// IsLoggedOn reports whether the user is online with the platform.
func (c *Client) IsLoggedOn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loggedOn
}

// EncryptedAppTicket returns a copy of the last retrieved ticket.
func (c *Client) EncryptedAppTicket() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return nil, ErrNotInitialized
	}
	if c.ticket == nil {
		return nil, ErrNoTicket
	}
	return bytes.Clone(c.ticket), nil
}

// RequestEncryptedAppTicket asks for a new ticket; l hears the result.
func (c *Client) RequestEncryptedAppTicket(data []byte, l TicketListener) error {
	if err := c.requireSignedIn(); err != nil {
		return err
	}
	id := newID()
	if l != nil {
		c.mu.Lock()
		c.tickets[id] = l
		c.mu.Unlock()
	}
	if err := c.send(Message{Type: TypeRequestTicket, ID: id, Data: data}); err != nil {
		c.mu.Lock()
		delete(c.tickets, id)
		c.mu.Unlock()
		return err
	}
	return nil
}

// SetAchievement unlocks an achievement locally; StoreStatsAndAchievements
// persists it.
func (c *Client) SetAchievement(name string) error {
	if name == "" {
		return &Error{Name: "InvalidArgumentError", Msg: "achievement name is empty"}
	}
	if err := c.requireSignedIn(); err != nil {
		return err
	}
	return c.send(Message{Type: TypeSetAchievement, ID: newID(), Name: name})
}

// StoreStatsAndAchievements persists unlocked achievements.
func (c *Client) StoreStatsAndAchievements() error {
	if err := c.requireSignedIn(); err != nil {
		return err
	}
	return c.send(Message{Type: TypeStoreStats, ID: newID()})
}

// RequestUserStatsAndAchievements fetches the user's stats.
func (c *Client) RequestUserStatsAndAchievements() error {
	if err := c.requireSignedIn(); err != nil {
		return err
	}
	return c.send(Message{Type: TypeRequestStats, ID: newID()})
}

// StatsReady reports whether the user's stats have been retrieved.
func (c *Client) StatsReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statsReady
}

func (c *Client) requireSignedIn() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case !c.initialized:
		return ErrNotInitialized
	case !c.signedIn:
		return ErrNotSignedIn
	}
	return nil
}

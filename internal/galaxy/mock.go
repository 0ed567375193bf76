package galaxy

import (
	"fmt"
	"net/http"
	"slices"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/joeycumines/logiface"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// MockServer is an in-process stand-in for the platform. It accepts one
// client id/secret pair (any pair when ClientID is empty), signs everyone in
// and hands out tickets.
type MockServer struct {
	ClientID     string
	ClientSecret string
	// DenySignIn answers sign-in requests with an auth failure.
	DenySignIn bool
	// Offline signs users in without logging them on.
	Offline bool

	log *logiface.Logger[logiface.Event]

	mu       sync.Mutex
	conns    map[*mockConn]struct{}
	unlocked []string
	stored   []string
}

type mockConn struct {
	ws       *websocket.Conn
	writeMu  sync.Mutex
	clientID string
	inited   bool
	signedIn bool
}

// NewMockServer creates a mock platform accepting the given credentials.
func NewMockServer(clientID, clientSecret string, log *logiface.Logger[logiface.Event]) *MockServer {
	return &MockServer{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		log:          log,
		conns:        make(map[*mockConn]struct{}),
	}
}

// ServeHTTP upgrades the request and serves the platform protocol.
func (s *MockServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warning().Err(err).Log("mock: upgrade failed")
		return
	}
	conn := &mockConn{ws: ws}
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
	s.log.Info().Str("remote", r.RemoteAddr).Log("mock: client connected")

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = ws.Close()
		s.log.Info().Str("remote", r.RemoteAddr).Log("mock: client disconnected")
	}()

	for {
		var msg Message
		if err := ws.ReadJSON(&msg); err != nil {
			return
		}
		s.handle(conn, msg)
	}
}

func (s *MockServer) handle(conn *mockConn, msg Message) {
	s.log.Debug().Str("type", msg.Type).Str("id", msg.ID).Log("mock: request")
	switch msg.Type {
	case TypeInit:
		if s.ClientID != "" && (msg.ClientID != s.ClientID || msg.ClientSecret != s.ClientSecret) {
			s.reply(conn, Message{Type: TypeError, ID: msg.ID, Error: "InvalidArgumentError", Reason: "invalid client credentials"})
			return
		}
		conn.inited = true
		conn.clientID = msg.ClientID
		s.reply(conn, Message{Type: TypeInit, ID: msg.ID, Success: true})

	case TypeSignIn:
		switch {
		case !conn.inited:
			s.reply(conn, Message{Type: TypeAuthFailure, ID: msg.ID, Reason: ReasonGalaxyNotInitialized})
		case s.DenySignIn:
			s.reply(conn, Message{Type: TypeAuthFailure, ID: msg.ID, Reason: ReasonInvalidCredentials})
		default:
			conn.signedIn = true
			s.reply(conn, Message{Type: TypeAuthSuccess, ID: msg.ID, Offline: s.Offline})
		}

	case TypeRequestTicket:
		if !conn.signedIn {
			s.reply(conn, Message{Type: TypeTicket, ID: msg.ID, Reason: ReasonServiceNotSignedIn})
			return
		}
		ticket := fmt.Sprintf("%s.%s.%x", conn.clientID, newID(), msg.Data)
		s.reply(conn, Message{Type: TypeTicket, ID: msg.ID, Success: true, Data: []byte(ticket)})

	case TypeSetAchievement:
		if !conn.signedIn {
			s.reply(conn, Message{Type: TypeError, ID: msg.ID, Error: "UnauthorizedAccessError", Reason: "user is not signed in"})
			return
		}
		s.mu.Lock()
		if !slices.Contains(s.unlocked, msg.Name) {
			s.unlocked = append(s.unlocked, msg.Name)
		}
		s.mu.Unlock()

	case TypeStoreStats:
		if !conn.signedIn {
			s.reply(conn, Message{Type: TypeError, ID: msg.ID, Error: "UnauthorizedAccessError", Reason: "user is not signed in"})
			return
		}
		s.mu.Lock()
		for _, name := range s.unlocked {
			if !slices.Contains(s.stored, name) {
				s.stored = append(s.stored, name)
			}
		}
		s.mu.Unlock()

	case TypeRequestStats:
		s.reply(conn, Message{Type: TypeStatsRetrieved, ID: msg.ID, Success: conn.signedIn})

	default:
		s.reply(conn, Message{Type: TypeError, ID: msg.ID, Error: "InvalidArgumentError", Reason: FailureReason("unknown message type " + msg.Type)})
	}
}

func (s *MockServer) reply(conn *mockConn, msg Message) {
	conn.writeMu.Lock()
	defer conn.writeMu.Unlock()
	if err := conn.ws.WriteJSON(msg); err != nil {
		s.log.Warning().Err(err).Log("mock: write failed")
	}
}

// DropAuth tells every connected client it has lost authentication.
func (s *MockServer) DropAuth() {
	s.mu.Lock()
	conns := make([]*mockConn, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.mu.Unlock()
	for _, conn := range conns {
		s.reply(conn, Message{Type: TypeAuthLost, Reason: ReasonConnectionFailure})
	}
}

// Disconnect closes every client connection without a close handshake.
func (s *MockServer) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		_ = conn.ws.Close()
	}
}

// Stored returns the achievements persisted by StoreStatsAndAchievements, in
// the order they were first stored.
func (s *MockServer) Stored() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.stored)
}

// Connections returns the number of connected clients.
func (s *MockServer) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

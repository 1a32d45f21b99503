// server.go is the domain-expansion remote-attach transport: §4.7.6 only
// specifies a breakpoint/step hook interface, not a transport, so a
// minimal websocket command channel is layered on top of Session rather
// than a full debug-adapter protocol (explicitly out of scope).
//
// Grounded on the teacher's internal/network WebSocketServer/Upgrader
// pattern (gorilla/websocket upgrade handler registered on an
// *http.Server, one goroutine per accepted connection).
package debugger

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Server multiplexes remote-attach connections across live Sessions, each
// identified by a uuid minted when the session is registered (mirroring
// the teacher's fmt.Sprintf("ws_%d", time.Now().UnixNano()) id scheme,
// but using a real uuid since a remote attach id is handed to an external
// client, not just kept as an internal map key).
type Server struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
	upgrader websocket.Upgrader
}

func NewServer() *Server {
	return &Server{
		sessions: make(map[uuid.UUID]*Session),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Attach registers s under a fresh id and returns it so the host can hand
// it to whatever remote debug client wants to connect.
func (srv *Server) Attach(s *Session) uuid.UUID {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	id := uuid.New()
	srv.sessions[id] = s
	return id
}

func (srv *Server) Detach(id uuid.UUID) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	delete(srv.sessions, id)
}

func (srv *Server) lookup(id uuid.UUID) (*Session, bool) {
	srv.mu.RLock()
	defer srv.mu.RUnlock()
	s, ok := srv.sessions[id]
	return s, ok
}

// command is the wire shape of one client request; response mirrors it
// back with a result or error.
type command struct {
	Cmd      string `json:"cmd"`
	File     string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
	Function string `json:"function,omitempty"`
	Block    string `json:"block,omitempty"`
	InstrIdx int    `json:"instr_idx,omitempty"`
	ID       int    `json:"id,omitempty"`
	Expr     string `json:"expr,omitempty"`
}

type response struct {
	OK      bool        `json:"ok"`
	Error   string      `json:"error,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Changes []Change    `json:"changes,omitempty"`
}

// ServeHTTP upgrades the connection and serves one session's remote
// command loop until the client disconnects. The session is selected by
// the "session" query parameter, minted by a prior Attach call.
func (srv *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rawID := r.URL.Query().Get("session")
	id, err := uuid.Parse(rawID)
	if err != nil {
		http.Error(w, "invalid or missing session id", http.StatusBadRequest)
		return
	}
	sess, ok := srv.lookup(id)
	if !ok {
		http.Error(w, "no such session", http.StatusNotFound)
		return
	}

	conn, err := srv.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		var cmd command
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		resp := srv.dispatch(sess, cmd)
		if err := conn.WriteJSON(resp); err != nil {
			return
		}
	}
}

func (srv *Server) dispatch(sess *Session, cmd command) response {
	switch cmd.Cmd {
	case "break_source":
		bp := sess.AddBreakpointAtSource(cmd.File, cmd.Line)
		return response{OK: true, Data: bp}
	case "break_il":
		bp := sess.AddBreakpointAtIL(cmd.Function, cmd.Block, cmd.InstrIdx)
		return response{OK: true, Data: bp}
	case "remove_breakpoint":
		if !sess.RemoveBreakpoint(cmd.ID) {
			return response{OK: false, Error: fmt.Sprintf("no breakpoint %d", cmd.ID)}
		}
		return response{OK: true}
	case "list_breakpoints":
		return response{OK: true, Data: sess.Breakpoints()}
	case "watch":
		sess.AddWatch(cmd.Expr)
		return response{OK: true}
	case "unwatch":
		if !sess.RemoveWatch(cmd.Expr) {
			return response{OK: false, Error: fmt.Sprintf("no watch %q", cmd.Expr)}
		}
		return response{OK: true}
	case "list_watches":
		return response{OK: true, Data: sess.Watches()}
	case "call_stack":
		return response{OK: true, Data: sess.CallStack()}
	case "continue":
		result, changes, err := sess.Continue()
		if err != nil {
			return response{OK: false, Error: err.Error()}
		}
		return response{OK: true, Data: result, Changes: changes}
	default:
		return response{OK: false, Error: fmt.Sprintf("unknown command %q", cmd.Cmd)}
	}
}

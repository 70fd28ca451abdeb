// Package console serves the interactive script console over WebSocket,
// with a small JSON API for script authors.
package console

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/crystal-mush/mudscript/pkg/engine"
	"github.com/crystal-mush/mudscript/pkg/events"
	"github.com/crystal-mush/mudscript/pkg/scriptstore"
	"github.com/crystal-mush/mudscript/pkg/validate"
	"github.com/gorilla/websocket"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("mudscript.console")

// Config holds the console settings.
type Config struct {
	Addr           string
	MetricsEnabled bool
	Origins        []string // Allowed WebSocket origins, all when empty
}

// Server is the console HTTP server.
type Server struct {
	engine   *engine.Engine
	auth     *AuthService
	httpSrv  *http.Server
	mux      *http.ServeMux
	upgrader websocket.Upgrader
	nextID   atomic.Int64
}

// NewServer creates a console bound to the engine.
func NewServer(e *engine.Engine, auth *AuthService, cfg Config) *Server {
	s := &Server{
		engine: e,
		auth:   auth,
		mux:    http.NewServeMux(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				if len(cfg.Origins) == 0 {
					return true
				}
				origin := r.Header.Get("Origin")
				for _, o := range cfg.Origins {
					if strings.EqualFold(o, origin) {
						return true
					}
				}
				return false
			},
		},
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /ws", authMiddleware(auth, http.HandlerFunc(s.handleWebSocket)))
	s.mux.Handle("GET /api/scripts", authMiddleware(auth, http.HandlerFunc(s.handleScripts)))
	s.mux.Handle("GET /api/reports", authMiddleware(auth, http.HandlerFunc(s.handleReports)))
	s.mux.Handle("GET /api/check", authMiddleware(auth, http.HandlerFunc(s.handleCheckLoaded)))
	s.mux.Handle("POST /api/check", authMiddleware(auth, http.HandlerFunc(s.handleCheckDraft)))
	if cfg.MetricsEnabled && e.Metrics != nil {
		s.mux.Handle("GET /metrics", e.Metrics.Handler())
	}
	s.httpSrv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler of the console.
func (s *Server) Handler() http.Handler { return s.mux }

// Start listens until Stop is called.
func (s *Server) Start() error {
	log.Infof("console: listening on %s", s.httpSrv.Addr)
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop gracefully shuts down the console.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	immediate, waiting := s.engine.Sched.Stats()
	writeJSON(w, map[string]any{
		"status":    "ok",
		"scripts":   len(s.engine.Scripts()),
		"immediate": immediate,
		"waiting":   waiting,
	})
}

func (s *Server) handleScripts(w http.ResponseWriter, r *http.Request) {
	type entry struct {
		Name  string `json:"name"`
		Event string `json:"event,omitempty"`
	}
	out := []entry{}
	for _, name := range s.engine.Scripts() {
		sc, ok := s.engine.Script(name)
		if !ok {
			continue
		}
		e := entry{Name: name}
		if sc.Event != nil {
			e.Event = sc.Event.Name
		}
		out = append(out, e)
	}
	writeJSON(w, out)
}

func (s *Server) handleReports(w http.ResponseWriter, r *http.Request) {
	if s.engine.Reports == nil {
		http.Error(w, `{"error":"reports are disabled"}`, http.StatusNotFound)
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, `{"error":"invalid limit"}`, http.StatusBadRequest)
			return
		}
		limit = min(n, 500)
	}
	failures, err := s.engine.Reports.Recent(r.Context(), r.URL.Query().Get("script"), limit)
	if err != nil {
		log.Errorf("console: %v", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	type entry struct {
		Kind      string    `json:"kind"`
		Script    string    `json:"script"`
		Execution string    `json:"execution,omitempty"`
		Cursor    int       `json:"cursor"`
		Opcode    string    `json:"opcode,omitempty"`
		Message   string    `json:"message"`
		CreatedAt time.Time `json:"created_at"`
	}
	out := make([]entry, len(failures))
	for i, f := range failures {
		out[i] = entry{f.Kind, f.Script, f.Execution, f.Cursor, f.Opcode, f.Message, f.CreatedAt}
	}
	writeJSON(w, out)
}

// handleCheckLoaded validates the loaded scripts.
func (s *Server) handleCheckLoaded(w http.ResponseWriter, r *http.Request) {
	s.check(w, s.engine.Records())
}

// handleCheckDraft validates a script an author has not saved yet:
// {"name":"...","event":"...","source":"..."}.
func (s *Server) handleCheckDraft(w http.ResponseWriter, r *http.Request) {
	var draft struct {
		Name   string `json:"name"`
		Event  string `json:"event"`
		Source string `json:"source"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&draft); err != nil {
		http.Error(w, `{"error":"invalid JSON body"}`, http.StatusBadRequest)
		return
	}
	if draft.Name == "" {
		draft.Name = "draft"
	}
	claims := ClaimsFromContext(r.Context())
	s.check(w, []*scriptstore.Record{{
		Name:   draft.Name,
		Event:  draft.Event,
		Owner:  Owner(claims.Author),
		Source: draft.Source,
	}})
}

func (s *Server) check(w http.ResponseWriter, records []*scriptstore.Record) {
	v := validate.New(&validate.Corpus{
		Records:  records,
		Events:   s.engine.Events,
		Compiler: s.engine.Compiler,
	})
	v.Run()
	w.Header().Set("Content-Type", "application/json")
	validate.GenerateReport(v).WriteJSON(w)
}

// --- WebSocket Handler ---

// Message is the JSON message format of the console.
//
// Clients send {"type":"input","text":"..."} for each line, or
// {"type":"reset"} to drop an unfinished block. The server answers
// with "more", "result" or "error", and forwards script output as
// "print", "message" and "error" messages.
type Message struct {
	Type   string         `json:"type"`
	Text   string         `json:"text,omitempty"`
	Script string         `json:"script,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
}

// Owner is the object an author's console input runs for.
func Owner(author string) events.ObjectRef {
	return events.ObjectRef("author:" + author)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warningf("console: websocket upgrade error: %v", err)
		return
	}
	id := s.nextID.Add(1)
	wc := &wsConn{conn: conn}
	owner := Owner(claims.Author)
	session := s.engine.NewSession(owner)

	bus := s.engine.NS.Bus
	if bus != nil {
		bus.Subscribe(owner, wc)
	}
	if s.engine.Metrics != nil {
		s.engine.Metrics.SessionOpened()
	}
	log.Infof("console: [%d] %s connected from %s", id, claims.Author, r.RemoteAddr)

	go func() {
		defer func() {
			wc.closed.Store(true)
			if bus != nil {
				bus.Unsubscribe(owner, wc)
			}
			if s.engine.Metrics != nil {
				s.engine.Metrics.SessionClosed()
			}
			conn.Close()
			log.Infof("console: [%d] %s disconnected", id, claims.Author)
		}()
		s.readLoop(id, session, wc)
	}()
}

func (s *Server) readLoop(id int64, session *engine.Session, wc *wsConn) {
	for {
		_, data, err := wc.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warningf("console: [%d] read error: %v", id, err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			wc.send(Message{Type: "error", Text: "invalid JSON message"})
			continue
		}
		switch msg.Type {
		case "input":
			reply := session.Input(context.Background(), msg.Text)
			wc.send(Message{Type: reply.Kind, Text: reply.Text})
		case "reset":
			session.Reset()
			wc.send(Message{Type: engine.ReplyResult})
		default:
			wc.send(Message{Type: "error", Text: fmt.Sprintf("unknown message type: %s", msg.Type)})
		}
	}
}

// wsConn holds the WebSocket connection and its write mutex. It receives
// the events of its author from the bus.
type wsConn struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	closed atomic.Bool
}

func (wc *wsConn) send(msg Message) {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	wc.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := wc.conn.WriteJSON(msg); err != nil {
		wc.closed.Store(true)
	}
}

func (wc *wsConn) Receive(ev events.Event) {
	typ := ev.Type.String()
	switch ev.Type {
	case events.EvScriptDone, events.EvScriptWait:
		return
	case events.EvScriptError:
		typ = "error"
	}
	wc.send(Message{Type: typ, Text: ev.Text, Script: ev.Script, Data: ev.Data})
}

func (wc *wsConn) Closed() bool { return wc.closed.Load() }

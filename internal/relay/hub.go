// Package relay is the WebSocket side of the drawing board: it tracks
// sessions, resolves logins, admits draws into the shared canvas and fans
// events out to everyone connected.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime/debug"

	"golang.org/x/time/rate"

	"drawing-board/internal/admission"
	"drawing-board/internal/canvas"
	"drawing-board/internal/identity"
	"drawing-board/internal/presence"
)

// ErrDispatchPanic is returned by Run when an event handler panicked.
var ErrDispatchPanic = errors.New("relay: dispatch loop panicked")

var errHubStopped = errors.New("relay: hub stopped")

// Options wires a Hub to its collaborators. Logger, Registry, Admission,
// Canvas and Resolver are required.
type Options struct {
	Logger    *slog.Logger
	Registry  *presence.Registry
	Admission *admission.Controller
	Canvas    *canvas.Compositor
	Resolver  *identity.Resolver

	// CursorRate caps relayed cursor updates per session per second.
	// Zero or less disables throttling.
	CursorRate float64

	// Origins lists the allowed Origin headers. Empty allows any.
	Origins []string
}

// Hub owns every session and the presence registry. All state changes
// happen on the goroutine running Run, one event at a time.
type Hub struct {
	logger     *slog.Logger
	registry   *presence.Registry
	admission  *admission.Controller
	canvas     *canvas.Compositor
	resolver   *identity.Resolver
	cursorRate float64
	origins    []string

	inbox chan any
	done  chan struct{}

	sessions     map[*Session]struct{}
	userSessions map[string]int
	lagging      []*Session
}

func NewHub(opts Options) *Hub {
	return &Hub{
		logger:       opts.Logger,
		registry:     opts.Registry,
		admission:    opts.Admission,
		canvas:       opts.Canvas,
		resolver:     opts.Resolver,
		cursorRate:   opts.CursorRate,
		origins:      opts.Origins,
		inbox:        make(chan any, 1024),
		done:         make(chan struct{}),
		sessions:     make(map[*Session]struct{}),
		userSessions: make(map[string]int),
	}
}

type connectEvent struct{ session *Session }

type disconnectEvent struct{ session *Session }

type messageEvent struct {
	session *Session
	env     Envelope
}

type loginResult struct {
	session *Session
	seq     uint64
	ack     *uint64
	user    identity.User
	err     error
}

type statsRequest struct{ reply chan Stats }

// Stats is a point-in-time view of the hub.
type Stats struct {
	Sessions int    `json:"sessions"`
	Users    int    `json:"users"`
	Revision uint64 `json:"revision"`
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} { return h.done }

// Run processes events until ctx is cancelled. Every open session is
// closed on the way out. A panic in a handler is returned as
// ErrDispatchPanic.
func (h *Hub) Run(ctx context.Context) (err error) {
	defer close(h.done)
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("dispatch panic", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
			err = fmt.Errorf("%w: %v", ErrDispatchPanic, r)
		}
		h.closeAll()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-h.inbox:
			h.dispatch(ev)
		}
	}
}

// post hands ev to the dispatch loop. It reports false once the hub is
// gone.
func (h *Hub) post(ev any) bool {
	select {
	case h.inbox <- ev:
		return true
	case <-h.done:
		return false
	}
}

// Stats asks the dispatch loop for its counters.
func (h *Hub) Stats(ctx context.Context) (Stats, error) {
	req := statsRequest{reply: make(chan Stats, 1)}
	select {
	case h.inbox <- req:
	case <-h.done:
		return Stats{}, errHubStopped
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}

	select {
	case st := <-req.reply:
		return st, nil
	case <-h.done:
		return Stats{}, errHubStopped
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
}

func (h *Hub) dispatch(ev any) {
	switch ev := ev.(type) {
	case connectEvent:
		h.handleConnect(ev.session)
	case disconnectEvent:
		h.handleDisconnect(ev.session)
	case messageEvent:
		if _, ok := h.sessions[ev.session]; ok {
			h.handleMessage(ev.session, ev.env)
		}
	case loginResult:
		h.completeLogin(ev.session, ev.seq, ev.ack, ev.user, ev.err)
	case statsRequest:
		ev.reply <- Stats{
			Sessions: len(h.sessions),
			Users:    h.registry.Len(),
			Revision: h.canvas.Revision(),
		}
	}
	h.evictLagging()
}

// evictLagging closes the sessions whose send queue overflowed while the
// last event was handled. Their departure may overflow others in turn.
func (h *Hub) evictLagging() {
	for len(h.lagging) > 0 {
		s := h.lagging[0]
		h.lagging = h.lagging[1:]
		s.logger.Warn("send queue full, closing session", slog.Int("queued", len(s.send)))
		h.handleDisconnect(s)
	}
	h.lagging = nil
}

func (h *Hub) handleConnect(s *Session) {
	h.sessions[s] = struct{}{}

	limit := rate.Inf
	burst := 1
	if h.cursorRate > 0 {
		limit = rate.Limit(h.cursorRate)
		burst = int(math.Ceil(h.cursorRate))
	}
	s.cursor = rate.NewLimiter(limit, burst)

	// Captured here so the snapshot precedes every draw queued after it.
	s.snapshot = h.canvas.Capture()
	close(s.registered)

	s.logger.Debug("session connected", slog.Int("sessions", len(h.sessions)))
}

func (h *Hub) handleDisconnect(s *Session) {
	if _, ok := h.sessions[s]; !ok {
		return
	}
	delete(h.sessions, s)
	s.cancel()
	h.unbind(s)
	close(s.send)

	s.logger.Debug("session disconnected", slog.Int("sessions", len(h.sessions)))
}

func (h *Hub) closeAll() {
	for s := range h.sessions {
		delete(h.sessions, s)
		s.cancel()
		close(s.send)
	}
}

func (h *Hub) handleMessage(s *Session, env Envelope) {
	switch env.Event {
	case EventLogin:
		h.handleLogin(s, env)
	case EventLogout:
		h.handleLogout(s, env)
	case EventDraw:
		h.handleDraw(s, env)
	case EventCursor:
		h.handleCursor(s, env)
	default:
		s.logger.Debug("unknown event", slog.String("event", env.Event))
		h.reply(s, env.Ack, StatusAck{Error: "unknown event"})
	}
}

func (h *Hub) handleLogin(s *Session, env Envelope) {
	s.loginSeq++
	seq := s.loginSeq

	var req identity.LoginRequest
	if err := json.Unmarshal(env.Data, &req); err != nil {
		h.completeLogin(s, seq, env.Ack, identity.User{}, fmt.Errorf("malformed login: %w", err))
		return
	}

	if !h.resolver.Delegated(req) {
		user, err := h.resolver.ResolveLocal(req)
		h.completeLogin(s, seq, env.Ack, user, err)
		return
	}

	ctx := s.ctx
	go func() {
		user, err := h.resolver.Resolve(ctx, req)
		h.post(loginResult{session: s, seq: seq, ack: env.Ack, user: user, err: err})
	}()
}

// completeLogin applies a resolved login unless its session has gone or a
// later login has superseded it.
func (h *Hub) completeLogin(s *Session, seq uint64, ack *uint64, user identity.User, err error) {
	if _, ok := h.sessions[s]; !ok || s.loginSeq != seq {
		s.logger.Debug("discarding stale login", slog.Uint64("seq", seq))
		return
	}

	if err != nil {
		s.logger.Info("login rejected", slog.Any("err", err))
		reason := err.Error()
		h.reply(s, ack, LoginAck{Error: reason})
		h.emit(s, Message{Event: EventLoginRejected, Data: LoginRejected{Reason: reason}})
		return
	}

	if s.identified() && s.userID != user.ID {
		h.unbind(s)
	}
	if !s.identified() {
		s.userID = user.ID
		h.userSessions[user.ID]++
	}

	rec, _ := h.registry.Register(user)
	users := h.registry.List()

	h.reply(s, ack, LoginAck{OK: true, User: &rec, ConnectedUsers: users})
	h.broadcast(Message{
		Event: EventPresenceChanged,
		Data:  PresenceChanged{Kind: PresenceLogin, User: rec, ConnectedUsers: users},
	}, nil)

	s.logger.Info("user logged in", slog.String("user", rec.ID), slog.String("username", rec.Username), slog.Int("users", len(users)))
}

func (h *Hub) handleLogout(s *Session, env Envelope) {
	var req LogoutRequest
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &req); err != nil {
			h.reply(s, env.Ack, StatusAck{Error: "malformed logout"})
			return
		}
	}

	if !s.identified() || (req.ID != "" && req.ID != s.userID) {
		h.reply(s, env.Ack, StatusAck{Error: "not logged in"})
		return
	}

	// A newer login still in flight would otherwise re-identify the session.
	s.loginSeq++
	h.reply(s, env.Ack, StatusAck{OK: true})
	h.unbind(s)
}

// unbind detaches s from its user. The user leaves the registry, and
// everyone hears about it, only when no other session is bound to it.
func (h *Hub) unbind(s *Session) {
	if !s.identified() {
		return
	}
	id := s.userID
	s.userID = ""

	h.userSessions[id]--
	if h.userSessions[id] > 0 {
		return
	}
	delete(h.userSessions, id)

	user, ok := h.registry.Get(id)
	if !ok || !h.registry.Unregister(id) {
		return
	}
	h.admission.Forget(id)

	users := h.registry.List()
	h.broadcast(Message{
		Event: EventPresenceChanged,
		Data:  PresenceChanged{Kind: PresenceLogout, User: user, ConnectedUsers: users},
	}, nil)

	h.logger.Info("user logged out", slog.String("user", id), slog.Int("users", len(users)))
}

func (h *Hub) handleDraw(s *Session, env Envelope) {
	if !s.identified() {
		s.logger.Debug("dropping draw from anonymous session")
		return
	}

	var ev canvas.DrawEvent
	if err := json.Unmarshal(env.Data, &ev); err != nil {
		h.reply(s, env.Ack, DrawAck{Error: "malformed draw event"})
		return
	}
	if ev.AuthorID != s.userID {
		s.logger.Debug("dropping draw for another author", slog.String("user", s.userID), slog.String("author", ev.AuthorID))
		return
	}

	if err := h.canvas.Validate(ev); err != nil {
		h.reply(s, env.Ack, DrawAck{AuthorID: ev.AuthorID, Error: err.Error()})
		return
	}
	if !h.admission.Admit(ev.AuthorID) {
		s.logger.Debug("draw rate limited", slog.Int("ceiling", h.admission.Ceiling()))
		h.reply(s, env.Ack, DrawAck{AuthorID: ev.AuthorID})
		return
	}
	if err := h.canvas.Apply(ev); err != nil {
		h.reply(s, env.Ack, DrawAck{AuthorID: ev.AuthorID, Error: err.Error()})
		return
	}

	h.broadcast(Message{Event: EventDraw, Data: ev}, nil)
	h.reply(s, env.Ack, DrawAck{OK: true, AuthorID: ev.AuthorID})
}

func (h *Hub) handleCursor(s *Session, env Envelope) {
	if !s.identified() || !s.cursor.Allow() {
		return
	}

	var pos CursorPosition
	if err := json.Unmarshal(env.Data, &pos); err != nil {
		return
	}
	if math.IsNaN(pos.X) || math.IsNaN(pos.Y) || math.IsInf(pos.X, 0) || math.IsInf(pos.Y, 0) {
		return
	}
	pos.UserID = s.userID

	h.broadcast(Message{Event: EventCursor, Data: pos}, s)
}

// reply acks a request. Requests without an ack id get nothing.
func (h *Hub) reply(s *Session, ack *uint64, data any) {
	if ack == nil {
		return
	}
	h.emit(s, Message{Event: EventAck, Ack: ack, Data: data})
}

func (h *Hub) emit(s *Session, msg Message) {
	b, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal message", slog.String("event", msg.Event), slog.Any("err", err))
		return
	}
	h.enqueue(s, b)
}

// broadcast sends msg to every session except the given one, which may be
// nil.
func (h *Hub) broadcast(msg Message, except *Session) {
	b, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal message", slog.String("event", msg.Event), slog.Any("err", err))
		return
	}
	for s := range h.sessions {
		if s != except {
			h.enqueue(s, b)
		}
	}
}

// enqueue never blocks the dispatch loop. A session that cannot keep up
// gets nothing more and is closed once the current event is handled, so
// a client never sees a stream with acks missing from it.
func (h *Hub) enqueue(s *Session, b []byte) {
	if s.lagging {
		return
	}
	select {
	case s.send <- b:
	default:
		s.lagging = true
		h.lagging = append(h.lagging, s)
	}
}

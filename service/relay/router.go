// Package relay bridges client sessions to broker channels.
//
// A Router owns the registered namespaces and every live Session. Each
// accepted connection becomes one Session holding exactly one broker
// subscription; the subscription is released when the session closes.
package relay

import (
	"context"
	"sort"
	"sync"

	"PPRelay/service/broker"
	"PPRelay/service/metrics"
	"PPRelay/tools/errs"
	"PPRelay/tools/ids"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ConnectRequest is what a transport negotiated before the session starts.
type ConnectRequest struct {
	Namespace string
	Channel   string // empty selects the namespace default
	UserID    string
}

type Router struct {
	broker  broker.Broker
	ids     *ids.Generator
	log     *zap.Logger
	metrics *metrics.Relay

	mu         sync.RWMutex
	namespaces map[string]*Namespace
	sessions   map[string]map[string]*Session // namespace -> session id -> session
	byUser     map[string]*Session            // single-session namespaces only
	closed     bool

	userLocks *keyLock
}

// NewRouter builds a router; m may be nil.
func NewRouter(b broker.Broker, gen *ids.Generator, log *zap.Logger, m *metrics.Relay) *Router {
	return &Router{
		broker:     b,
		ids:        gen,
		log:        log,
		metrics:    m,
		namespaces: make(map[string]*Namespace),
		sessions:   make(map[string]map[string]*Session),
		byUser:     make(map[string]*Session),
		userLocks:  newKeyLock(),
	}
}

// Register adds ns and moves it to Listening.
func (r *Router) Register(ns *Namespace) error {
	if ns == nil || ns.Name == "" || ns.Channel == "" {
		return errs.ErrInvalidArgument.WithDetail("namespace needs a name and a channel")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errs.ErrSessionClosed.WithDetail("router shut down")
	}
	if _, ok := r.namespaces[ns.Name]; ok {
		return errs.ErrInvalidArgument.WithDetail("namespace " + ns.Name + " already registered")
	}
	if !ns.listen() {
		return errs.ErrInvalidArgument.WithDetail("namespace " + ns.Name + " is already listening")
	}
	r.namespaces[ns.Name] = ns
	r.sessions[ns.Name] = make(map[string]*Session)
	r.log.Info("namespace listening", zap.String("namespace", ns.Name), zap.String("channel", ns.Channel))
	return nil
}

func (r *Router) Namespace(name string) (*Namespace, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ns, ok := r.namespaces[name]
	return ns, ok
}

// Accept creates and starts a session for tr. On error tr has been closed.
// In a single-session namespace the user's previous session is fully torn
// down before the new one subscribes.
func (r *Router) Accept(ctx context.Context, req ConnectRequest, tr Transport) (*Session, error) {
	ns, err := r.lookup(req.Namespace)
	if err != nil {
		_ = tr.Close()
		return nil, err
	}
	channel, err := ns.ResolveChannel(req.Channel)
	if err != nil {
		_ = tr.Close()
		return nil, err
	}

	userKey := ""
	if ns.SingleSession && req.UserID != "" {
		userKey = ns.Name + "/" + req.UserID
		unlock := r.userLocks.Lock(userKey)
		defer unlock()

		r.mu.RLock()
		prev := r.byUser[userKey]
		r.mu.RUnlock()
		if prev != nil {
			prev.Close("replaced by " + tr.ID())
		}
	}

	s := NewSession(r.ids.NextString(), req.UserID, ns, channel, tr, r.broker, r.log)
	s.metrics = r.metrics
	s.onClose = r.remove

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = tr.Close()
		return nil, errs.ErrSessionClosed.WithDetail("router shut down")
	}
	r.sessions[ns.Name][s.id] = s
	if userKey != "" {
		r.byUser[userKey] = s
	}
	r.mu.Unlock()
	r.metrics.SessionOpened(ctx, ns.Name)

	if err := s.Start(ctx); err != nil {
		// tell the client why before the transport goes away
		_ = tr.Send(ctx, errorEvent(channel, err))
		s.Close("start failed")
		return nil, err
	}
	s.log.Info("session active", zap.String("user", req.UserID))
	return s, nil
}

func (r *Router) lookup(name string) (*Namespace, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, errs.ErrSessionClosed.WithDetail("router shut down")
	}
	ns, ok := r.namespaces[name]
	if !ok {
		return nil, errs.ErrUnknownNamespace.WithDetail(name)
	}
	return ns, nil
}

func (r *Router) remove(s *Session) {
	r.mu.Lock()
	if set := r.sessions[s.ns.Name]; set != nil {
		delete(set, s.id)
	}
	key := s.ns.Name + "/" + s.userID
	if r.byUser[key] == s {
		delete(r.byUser, key)
	}
	r.mu.Unlock()
	r.metrics.SessionClosed(context.Background(), s.ns.Name)
}

// Sessions lists the live sessions of a namespace, oldest id first.
func (r *Router) Sessions(namespace string) []*Session {
	r.mu.RLock()
	set := r.sessions[namespace]
	out := make([]*Session, 0, len(set))
	for _, s := range set {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Count returns the number of live sessions across all namespaces.
func (r *Router) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, set := range r.sessions {
		n += len(set)
	}
	return n
}

// Shutdown refuses new connections and closes every session in parallel.
// It returns ctx.Err() if the sessions did not finish closing in time.
func (r *Router) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	var live []*Session
	for _, set := range r.sessions {
		for _, s := range set {
			live = append(live, s)
		}
	}
	r.mu.Unlock()

	r.log.Info("router shutting down", zap.Int("sessions", len(live)))
	var g errgroup.Group
	for _, s := range live {
		g.Go(func() error {
			s.Close("shutdown")
			return nil
		})
	}
	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

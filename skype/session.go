package skype

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// DefaultShutdownTimeout bounds how long Logout and Close wait for the
// loops and the dispatch pool to exit.
const DefaultShutdownTimeout = 10 * time.Second

// Config holds the settings for one Session. Zero durations and worker
// counts fall back to the package defaults.
type Config struct {
	Username string
	Password string

	// DispatchWorkers sizes the dispatch pool. Envelopes of one batch
	// are handled in order, but batches run concurrently, so a message
	// may be dispatched before the thread update that created its chat.
	// Use 1 to keep arrival order across batches.
	DispatchWorkers   int
	KeepaliveInterval time.Duration
	PollTimeout       time.Duration
	ShutdownTimeout   time.Duration

	// EndpointName is advertised in the presence document.
	EndpointName string

	// Handlers interprets NewMessage resources. Nil handles nothing.
	Handlers MessageHandlers

	// Dispatcher receives every domain event. Nil discards them.
	Dispatcher EventDispatcher

	// HTTPClient supplies the transport. Nil uses http.DefaultTransport.
	HTTPClient *http.Client
}

// Session is one logged-in account. It owns the session state, the poll
// and keepalive loops and the dispatch pool.
type Session struct {
	username string
	password string

	client     *Client
	logger     *slog.Logger
	handlers   MessageHandlers
	dispatcher EventDispatcher
	chats      *ChatRegistry

	workers           int
	endpointName      string
	pollTimeout       time.Duration
	keepaliveInterval time.Duration
	shutdownTimeout   time.Duration

	// lifecycleMu serializes Login, Logout and Close.
	lifecycleMu sync.Mutex

	mu    sync.RWMutex
	state *sessionState
	run   *activity
}

// sessionState is written once by Login. Only live changes afterwards.
type sessionState struct {
	skypeToken        string
	registrationToken string
	endpointID        string
	cloud             CloudPrefix
	cookies           Cookies
	correlationID     string
	loggedInAt        time.Time

	live atomic.Bool
}

func (st *sessionState) Live() bool { return st.live.Load() }

// markDead clears liveness and reports whether this call did it.
func (st *sessionState) markDead() bool {
	return st.live.CompareAndSwap(true, false)
}

// activity groups the goroutines started by one Login.
type activity struct {
	cancel   context.CancelFunc
	pool     *Pool
	loops    *errgroup.Group
	pollDone chan struct{}
}

// Status is a point-in-time snapshot of a Session.
type Status struct {
	Username   string
	Live       bool
	Cloud      CloudPrefix
	EndpointID string
	Chats      int
	LoggedInAt time.Time
}

// New creates a Session. Nothing touches the network until Login.
func New(cfg Config, logger *slog.Logger) *Session {
	s := &Session{
		username:          cfg.Username,
		password:          cfg.Password,
		client:            NewClient(cfg.HTTPClient),
		logger:            logger.With(slog.String("user", cfg.Username)),
		handlers:          cfg.Handlers,
		dispatcher:        cfg.Dispatcher,
		chats:             NewChatRegistry(),
		workers:           cfg.DispatchWorkers,
		endpointName:      cfg.EndpointName,
		pollTimeout:       cfg.PollTimeout,
		keepaliveInterval: cfg.KeepaliveInterval,
		shutdownTimeout:   cfg.ShutdownTimeout,
	}

	if s.handlers == nil {
		s.handlers = HandlerRegistry{}
	}

	if s.dispatcher == nil {
		s.dispatcher = discard{}
	}

	if s.workers < 1 {
		s.workers = DefaultDispatchWorkers
	}

	if s.endpointName == "" {
		s.endpointName = DefaultEndpointName
	}

	if s.pollTimeout <= 0 {
		s.pollTimeout = DefaultPollTimeout
	}

	if s.keepaliveInterval <= 0 {
		s.keepaliveInterval = DefaultKeepaliveInterval
	}

	if s.shutdownTimeout <= 0 {
		s.shutdownTimeout = DefaultShutdownTimeout
	}

	return s
}

// Login runs the bring-up sequence and starts the poll loop, the
// keepalive loop and the dispatch pool. Every step runs once; the first
// failure is returned and nothing is started. The loops outlive ctx and
// stop only through Logout, Close or a terminal poll failure.
func (s *Session) Login(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.Live() {
		return ErrAlreadyLoggedIn
	}

	// A previous run that ended on its own still has to be reaped.
	if err := s.shutdown(ctx); err != nil {
		return err
	}

	s.logger.Info("logging in")

	boot, err := s.client.Login(ctx, s.username, s.password)
	if err != nil {
		return fmt.Errorf("logging in: %w", err)
	}

	cookies, err := s.client.ExchangeToken(ctx, boot.SkypeToken, boot.Cookies)
	if err != nil {
		return fmt.Errorf("logging in: %w", err)
	}

	reg, err := s.client.RegisterEndpoint(ctx, boot.SkypeToken)
	if err != nil {
		return fmt.Errorf("logging in: %w", err)
	}

	s.logger.Debug("endpoint registered",
		slog.String("endpoint_id", reg.EndpointID),
		slog.String("cloud", string(reg.Cloud)),
	)

	if err := s.client.Subscribe(ctx, reg.Token, reg.EndpointID, reg.Cloud, s.endpointName); err != nil {
		return fmt.Errorf("logging in: %w", err)
	}

	st := &sessionState{
		skypeToken:        boot.SkypeToken,
		registrationToken: reg.Token,
		endpointID:        reg.EndpointID,
		cloud:             reg.Cloud,
		cookies:           cookies,
		correlationID:     uuid.NewString(),
		loggedInAt:        time.Now(),
	}
	st.live.Store(true)

	s.mu.Lock()
	s.state = st
	s.run = s.start(ctx, st)
	s.mu.Unlock()

	s.logger.Info("logged in",
		slog.String("endpoint_id", st.endpointID),
		slog.String("cloud", string(st.cloud)),
	)

	return nil
}

func (s *Session) start(ctx context.Context, st *sessionState) *activity {
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	rt := &activity{
		cancel:   cancel,
		pool:     NewPool(s.workers, s.logger.With(slog.String("component", "dispatch"))),
		loops:    &errgroup.Group{},
		pollDone: make(chan struct{}),
	}

	rt.loops.Go(func() error {
		defer close(rt.pollDone)
		s.pollLoop(loopCtx, st, rt.pool)

		return nil
	})

	rt.loops.Go(func() error {
		s.keepaliveLoop(loopCtx, st)
		return nil
	})

	return rt
}

// Logout ends the web session and stops all background activity. If the
// server does not acknowledge the logout the error is returned and the
// session keeps running.
func (s *Session) Logout(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	st := s.currentState()
	if st == nil || !st.Live() {
		return ErrNotLoggedIn
	}

	if err := s.client.Logout(ctx, st.cookies); err != nil {
		return err
	}

	s.logger.Info("logged out")

	return s.shutdown(ctx)
}

// Close stops all background activity without telling the server. It is
// the way to release a session whose poll loop has already failed, and is
// a no-op when nothing is running. It must not be called from inside an
// EventDispatcher, which runs on the goroutines Close waits for.
func (s *Session) Close(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	return s.shutdown(ctx)
}

// shutdown clears liveness, cancels the loops, stops the pool without
// running queued batches and waits for all of it to exit. The wait is
// bounded by ctx and the shutdown timeout. Callers hold lifecycleMu.
func (s *Session) shutdown(ctx context.Context) error {
	s.mu.Lock()
	st, rt := s.state, s.run
	s.run = nil
	s.mu.Unlock()

	if rt == nil {
		return nil
	}

	st.markDead()
	rt.cancel()
	rt.pool.ShutdownNow()

	ctx, cancel := context.WithTimeout(ctx, s.shutdownTimeout)
	defer cancel()

	if err := rt.pool.AwaitTermination(ctx); err != nil {
		return err
	}

	loopsDone := make(chan struct{})

	go func() {
		_ = rt.loops.Wait()
		close(loopsDone)
	}()

	select {
	case <-loopsDone:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for session loops: %w", ctx.Err())
	}
}

func (s *Session) currentState() *sessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state
}

// Live reports whether the session is logged in and its poll loop is
// healthy.
func (s *Session) Live() bool {
	st := s.currentState()
	return st != nil && st.Live()
}

var closedChan = func() chan struct{} {
	c := make(chan struct{})
	close(c)

	return c
}()

// Done returns a channel that is closed when the poll loop of the
// current login exits. Before Login, and after Logout or Close, the
// returned channel is already closed.
func (s *Session) Done() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.run == nil {
		return closedChan
	}

	return s.run.pollDone
}

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	status := Status{
		Username: s.username,
		Chats:    s.chats.Len(),
	}

	if st := s.currentState(); st != nil {
		status.Live = st.Live()
		status.Cloud = st.cloud
		status.EndpointID = st.endpointID
		status.LoggedInAt = st.loggedInAt
	}

	return status
}

// Username returns the account name the session logs in with.
func (s *Session) Username() string { return s.username }

// Dispatcher returns the sink for domain events, for use by message
// handlers.
func (s *Session) Dispatcher() EventDispatcher { return s.dispatcher }

// GetChat returns the chat with the given id if the session knows it.
func (s *Session) GetChat(id string) (*Chat, bool) {
	return s.chats.Get(id)
}

// LoadChat registers a chat by id without waiting for a thread update.
// No ChatJoinedEvent is dispatched for it.
func (s *Session) LoadChat(id string) (*Chat, error) {
	if id == "" {
		return nil, &InvalidArgumentError{Value: id, Reason: "chat id is empty"}
	}

	chat, created := s.chats.AddIfAbsent(id)
	if !created {
		return nil, fmt.Errorf("loading chat %s: %w", id, ErrChatExists)
	}

	return chat, nil
}

// AllChats returns every known chat ordered by id.
func (s *Session) AllChats() []*Chat {
	return s.chats.All()
}

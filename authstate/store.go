package authstate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/getplacekit/placekit/profile"
	"github.com/getplacekit/placekit/provider"
)

var (
	// ErrClosed is returned when an operation races store teardown.
	ErrClosed = errors.New("authstate: store closed")
	// ErrNotAuthenticated is returned by operations that need a session.
	ErrNotAuthenticated = errors.New("authstate: not authenticated")
)

// Config holds the store's timeout policy. Values were tuned empirically and
// are configurable rather than fixed.
type Config struct {
	// FetchTimeout bounds the one-shot session fetch. On expiry the fetch
	// counts as "no session" rather than an error. Default 3s.
	FetchTimeout time.Duration
	// SettleTimeout is the store-level safety bound: if neither the fetch
	// nor the subscription produced a decision within it, the store forces
	// Unauthenticated so the UI never shows an infinite loading state.
	// Default 8s.
	SettleTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 3 * time.Second
	}
	if c.SettleTimeout <= 0 {
		c.SettleTimeout = 8 * time.Second
	}
	return c
}

type eventKind int

const (
	evBeginInit eventKind = iota
	evFetchResult
	evProviderEvent
	evMergeResult
	evSettle
	evRefreshProfile
)

// event is the loop's single input type. All state transitions happen inside
// the loop goroutine; producers only post.
type event struct {
	kind    eventKind
	prov    provider.Event
	sess    *provider.Session
	err     error
	seq     uint64
	prof    *profile.Profile
	syncErr error
}

// Store is the session store. Create it once per application instance via
// NewStore, call Start, and tear it down with Close.
type Store struct {
	provider  provider.Provider
	profiles  Syncer
	analytics Identifier
	cfg       Config
	log       *zap.Logger

	mu      sync.RWMutex
	state   State
	subs    map[int]func(State)
	nextSub int

	events    chan event
	done      chan struct{}
	loopExit  chan struct{}
	started   bool
	startOnce sync.Once
	closeOnce sync.Once
	unsub     func()
	initGroup singleflight.Group

	// seq and lastSessionSeq are owned by the loop goroutine.
	seq            uint64
	lastSessionSeq uint64
}

// NewStore builds a session store. The provider and syncer are required; the
// logger may be nil.
func NewStore(p provider.Provider, profiles Syncer, cfg Config, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		provider: p,
		profiles: profiles,
		cfg:      cfg.withDefaults(),
		log:      log,
		state:    State{Status: StatusUninitialized},
		subs:     make(map[int]func(State)),
		events:   make(chan event, 32),
		done:     make(chan struct{}),
		loopExit: make(chan struct{}),
	}
}

// SetAnalytics registers the analytics collaborator. Identify calls are
// fire-and-forget on every successful authentication.
func (s *Store) SetAnalytics(a Identifier) {
	s.mu.Lock()
	s.analytics = a
	s.mu.Unlock()
}

// Start launches the event loop and the provider subscription. Idempotent.
// The subscription is established before any fetch so that an event firing
// during initialization is never lost.
func (s *Store) Start() {
	s.startOnce.Do(func() {
		s.mu.Lock()
		s.started = true
		s.mu.Unlock()
		go s.run()
		s.unsub = s.provider.Subscribe(func(ev provider.Event) {
			s.post(event{kind: evProviderEvent, prov: ev})
		})
	})
}

// Initialize runs the initialization routine: a bounded session fetch racing
// the provider subscription, guarded by the settle timer. It blocks until
// the store settles, returning nil for Authenticated/Unauthenticated and the
// cause for Error.
//
// Concurrent calls share a single in-flight run.
func (s *Store) Initialize(ctx context.Context) error {
	s.Start()
	_, err, _ := s.initGroup.Do("init", func() (interface{}, error) {
		return nil, s.initialize(ctx)
	})
	return err
}

func (s *Store) initialize(ctx context.Context) error {
	s.post(event{kind: evBeginInit})

	settle := time.AfterFunc(s.cfg.SettleTimeout, func() {
		s.post(event{kind: evSettle})
	})
	defer settle.Stop()

	go func() {
		fctx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
		defer cancel()

		type fetched struct {
			sess *provider.Session
			err  error
		}
		// The provider contract lets CurrentSession hang past its context, so
		// the deadline is enforced here rather than trusted to the adapter.
		res := make(chan fetched, 1)
		go func() {
			sess, err := s.provider.CurrentSession(fctx)
			res <- fetched{sess: sess, err: err}
		}()

		select {
		case r := <-res:
			s.post(event{kind: evFetchResult, sess: r.sess, err: r.err})
		case <-fctx.Done():
			s.post(event{kind: evFetchResult, err: fctx.Err()})
		}
	}()

	return s.waitSettled(ctx)
}

func (s *Store) waitSettled(ctx context.Context) error {
	updates := make(chan State, 1)
	cancel := s.Subscribe(func(st State) {
		if !st.Settled() {
			return
		}
		select {
		case updates <- st:
		default:
		}
	})
	defer cancel()

	if st := s.State(); st.Settled() {
		return settleErr(st)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return ErrClosed
		case st := <-updates:
			return settleErr(st)
		}
	}
}

func settleErr(st State) error {
	if st.Status == StatusError {
		return fmt.Errorf("authstate: initialization failed: %w", st.Err)
	}
	return nil
}

// State returns the current snapshot. The contained Identity is shared and
// must be treated as read-only.
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Subscribe registers an observer invoked on every published state change.
// Callbacks run on the store's event loop and must not block. The returned
// cancel removes the observer.
func (s *Store) Subscribe(fn func(State)) (cancel func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// SignOut delegates to the provider. Deliberately pessimistic: when the
// provider call fails, local state is left untouched, since an unconfirmed
// sign-out must not desynchronize local and remote state.
func (s *Store) SignOut(ctx context.Context) error {
	if st := s.State(); st.Status != StatusAuthenticated {
		return nil
	}
	if err := s.provider.SignOut(ctx); err != nil {
		return fmt.Errorf("authstate: sign out: %w", err)
	}
	// Adapters emit SignedOut themselves; posting one as well is harmless
	// and covers providers that only confirm via the return value.
	s.post(event{kind: evProviderEvent, prov: provider.Event{Type: provider.EventSignedOut}})
	return nil
}

// RefreshProfile re-runs the profile merge for the current session. The
// result is applied asynchronously under the usual sequence rules.
func (s *Store) RefreshProfile() error {
	if st := s.State(); st.Identity == nil {
		return ErrNotAuthenticated
	}
	s.post(event{kind: evRefreshProfile})
	return nil
}

// Close unsubscribes from the provider and stops the event loop, blocking
// until the loop has drained; no observer callback fires after Close returns.
// Must not be called from inside an observer callback.
func (s *Store) Close() {
	s.closeOnce.Do(func() {
		if s.unsub != nil {
			s.unsub()
		}
		close(s.done)
		s.mu.RLock()
		started := s.started
		s.mu.RUnlock()
		if started {
			<-s.loopExit
		}
	})
}

func (s *Store) post(ev event) {
	select {
	case <-s.done:
	case s.events <- ev:
	}
}

func (s *Store) run() {
	defer close(s.loopExit)
	for {
		select {
		case <-s.done:
			return
		case ev := <-s.events:
			s.handle(ev)
		}
	}
}

func (s *Store) handle(ev event) {
	switch ev.kind {
	case evBeginInit:
		st := s.State()
		// Initializing is only entered from scratch or from Error; a
		// settled store never moves backward.
		if st.Status == StatusUninitialized || st.Status == StatusError {
			s.update(func(st *State) {
				st.Status = StatusInitializing
				st.Err = nil
			})
		}
	case evFetchResult:
		s.handleFetch(ev)
	case evProviderEvent:
		s.handleProviderEvent(ev.prov)
	case evMergeResult:
		s.handleMerge(ev)
	case evSettle:
		st := s.State()
		if st.Settled() {
			return
		}
		s.log.Warn("auth settle timeout reached without a decision",
			zap.Duration("settle_timeout", s.cfg.SettleTimeout))
		s.update(func(st *State) {
			st.Status = StatusUnauthenticated
			st.Identity = nil
		})
	case evRefreshProfile:
		st := s.State()
		if st.Identity != nil {
			s.startMerge(st.Identity.Session, s.lastSessionSeq)
		}
	}
}

func (s *Store) handleFetch(ev event) {
	st := s.State()
	if ev.err != nil {
		// Transport/timeout failures count as "no session" and are never
		// surfaced as errors.
		if errors.Is(ev.err, context.DeadlineExceeded) || errors.Is(ev.err, context.Canceled) {
			if st.Status == StatusInitializing {
				s.log.Warn("session fetch timed out, treating as unauthenticated",
					zap.Duration("fetch_timeout", s.cfg.FetchTimeout))
				s.update(func(st *State) {
					st.Status = StatusUnauthenticated
					st.Identity = nil
				})
			}
			return
		}
		if st.Status == StatusInitializing {
			s.log.Error("session fetch failed", zap.Error(ev.err))
			s.update(func(st *State) {
				st.Status = StatusError
				st.Err = ev.err
				st.Identity = nil
			})
		} else {
			// A subscription event already settled the store; the late
			// failure carries no new information.
			s.log.Warn("late session fetch error ignored", zap.Error(ev.err))
		}
		return
	}

	if ev.sess == nil {
		if st.Status == StatusInitializing {
			s.update(func(st *State) {
				st.Status = StatusUnauthenticated
				st.Identity = nil
			})
		}
		return
	}

	// A concrete session merges like any session-bearing event. Arrival
	// order in the loop defines the sequence, so a fetch landing after a
	// subscription event is an ordinary (newer) update, never a rollback.
	seq := s.nextSeq()
	s.lastSessionSeq = seq
	s.startMerge(*ev.sess, seq)
}

func (s *Store) handleProviderEvent(ev provider.Event) {
	switch ev.Type {
	case provider.EventSignedIn, provider.EventTokenRefreshed:
		if ev.Session == nil {
			s.log.Warn("provider event missing session", zap.String("type", string(ev.Type)))
			return
		}
		seq := s.nextSeq()
		s.lastSessionSeq = seq
		s.startMerge(*ev.Session, seq)
	case provider.EventSignedOut:
		// Bump the sequence so merges for the previous session are dropped.
		s.lastSessionSeq = s.nextSeq()
		s.update(func(st *State) {
			st.Status = StatusUnauthenticated
			st.Identity = nil
			st.Err = nil
		})
	default:
		s.log.Warn("unknown provider event ignored", zap.String("type", string(ev.Type)))
	}
}

// startMerge runs the profile sync off-loop and posts the result back,
// stamped with the session's sequence number.
func (s *Store) startMerge(sess provider.Session, seq uint64) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.FetchTimeout)
		defer cancel()
		prof, err := s.profiles.Sync(ctx, sess)
		s.post(event{kind: evMergeResult, sess: &sess, seq: seq, prof: prof, syncErr: err})
	}()
}

func (s *Store) handleMerge(ev event) {
	if ev.seq < s.lastSessionSeq {
		s.log.Debug("stale profile merge dropped",
			zap.Uint64("seq", ev.seq),
			zap.Uint64("latest", s.lastSessionSeq))
		return
	}

	id := &Identity{Grade: GradeFull, Session: *ev.sess, Profile: ev.prof}
	if ev.syncErr != nil {
		// A session-valid user is never blocked by a profile-store hiccup.
		s.log.Warn("profile sync failed, degrading identity",
			zap.Error(ev.syncErr),
			zap.String("subject_id", ev.sess.SubjectID))
		id = &Identity{Grade: GradeDegraded, Session: *ev.sess}
	}

	s.update(func(st *State) {
		st.Status = StatusAuthenticated
		st.Identity = id
		st.Err = nil
		st.SyncErr = ev.syncErr
	})

	s.mu.RLock()
	analytics := s.analytics
	s.mu.RUnlock()
	if analytics != nil {
		go analytics.Identify(ev.sess.SubjectID, map[string]any{
			"provider":     string(ev.sess.Provider),
			"display_name": id.DisplayName(),
			"degraded":     id.Grade == GradeDegraded,
		})
	}
}

// update applies a mutation, enforces invariants, and publishes the new
// snapshot to observers. Called only from the loop goroutine.
func (s *Store) update(mut func(*State)) {
	s.mu.Lock()
	mut(&s.state)
	if s.state.Settled() {
		s.state.HasAttemptedAuth = true
	}
	st := s.state
	fns := make([]func(State), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(st)
	}
}

func (s *Store) nextSeq() uint64 {
	s.seq++
	return s.seq
}

package recovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/getplacekit/placekit/authstate"
	"github.com/getplacekit/placekit/profile"
	"github.com/getplacekit/placekit/provider"
)

type stubProvider struct {
	hub provider.Hub

	mu   sync.Mutex
	sess *provider.Session
	err  error
}

func (p *stubProvider) CurrentSession(ctx context.Context) (*provider.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sess, p.err
}

func (p *stubProvider) Subscribe(fn func(provider.Event)) func() { return p.hub.Subscribe(fn) }

func (p *stubProvider) SignOut(ctx context.Context) error { return nil }

func (p *stubProvider) set(sess *provider.Session, err error) {
	p.mu.Lock()
	p.sess, p.err = sess, err
	p.mu.Unlock()
}

func passthroughSyncer() authstate.Syncer {
	return authstate.SyncerFunc(func(ctx context.Context, sess provider.Session) (*profile.Profile, error) {
		return &profile.Profile{SubjectID: sess.SubjectID}, nil
	})
}

func newErroredStore(t *testing.T, p *stubProvider) *authstate.Store {
	t.Helper()
	s := authstate.NewStore(p, passthroughSyncer(), authstate.Config{
		FetchTimeout:  200 * time.Millisecond,
		SettleTimeout: time.Second,
	}, nil)
	t.Cleanup(s.Close)
	if err := s.Initialize(context.Background()); err == nil {
		t.Fatal("expected initialization to fail")
	}
	if st := s.State(); st.Status != authstate.StatusError {
		t.Fatalf("expected error state, got %s", st.Status)
	}
	return s
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want Class
	}{
		{nil, ClassFatal},
		{errors.New("session expired"), ClassSession},
		{errors.New("provider: invalid token signature"), ClassSession},
		{errors.New("jwt: signature is invalid"), ClassSession},
		{errors.New("credentials EXPIRED upstream"), ClassSession},
		{errors.New("connection refused"), ClassFatal},
		{errors.New("database locked"), ClassFatal},
	}
	for _, tc := range cases {
		if got := Classify(tc.err); got != tc.want {
			t.Errorf("Classify(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
}

func TestRetryRecoversSessionError(t *testing.T) {
	p := &stubProvider{err: errors.New("session expired")}
	s := newErroredStore(t, p)
	c := NewController(s, nil)

	if !c.CanRetry() {
		t.Fatal("session-type error must offer retry")
	}

	p.set(&provider.Session{SubjectID: "alice", Provider: provider.TagPassword}, nil)
	if err := c.Retry(context.Background()); err != nil {
		t.Fatalf("retry failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.State().Status == authstate.StatusAuthenticated {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("store never authenticated after retry, status %s", s.State().Status)
}

func TestRetryRefusesFatalError(t *testing.T) {
	p := &stubProvider{err: errors.New("connection refused")}
	s := newErroredStore(t, p)
	c := NewController(s, nil)

	if c.CanRetry() {
		t.Error("fatal error must not offer retry")
	}
	if err := c.Retry(context.Background()); !errors.Is(err, ErrNotRecoverable) {
		t.Errorf("expected ErrNotRecoverable, got %v", err)
	}
}

func TestRetryNoopWhenSettled(t *testing.T) {
	p := &stubProvider{}
	s := authstate.NewStore(p, passthroughSyncer(), authstate.Config{
		FetchTimeout:  200 * time.Millisecond,
		SettleTimeout: time.Second,
	}, nil)
	t.Cleanup(s.Close)
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize failed: %v", err)
	}

	c := NewController(s, nil)
	if err := c.Retry(context.Background()); err != nil {
		t.Errorf("retry on settled store must be a no-op, got %v", err)
	}
}

func TestConcurrentRetriesShareOneRun(t *testing.T) {
	p := &stubProvider{err: errors.New("token expired")}
	s := newErroredStore(t, p)
	c := NewController(s, nil)

	p.set(&provider.Session{SubjectID: "bob", Provider: provider.TagOAuth}, nil)

	start := make(chan struct{})
	errs := make(chan error, 4)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			errs <- c.Retry(context.Background())
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("concurrent retry failed: %v", err)
		}
	}
}

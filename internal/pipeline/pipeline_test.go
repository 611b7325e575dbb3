package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dexra46515/apex-app-shield-sub000/internal/botdetect"
	"github.com/dexra46515/apex-app-shield-sub000/internal/enrich"
	"github.com/dexra46515/apex-app-shield-sub000/internal/kv"
	"github.com/dexra46515/apex-app-shield-sub000/internal/ratelimit"
	"github.com/dexra46515/apex-app-shield-sub000/internal/reputation"
	"github.com/dexra46515/apex-app-shield-sub000/internal/rules"
	"github.com/dexra46515/apex-app-shield-sub000/internal/threat"
)

type staticRules struct{ snap *rules.Snapshot }

func (s staticRules) Snapshot() *rules.Snapshot { return s.snap }

type jobRecorder struct {
	mu   sync.Mutex
	jobs []enrich.Job
}

func (r *jobRecorder) Submit(job enrich.Job) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job)
	return true
}

type fixture struct {
	store      kv.Store
	rep        *reputation.Store
	classifier *Classifier
	jobs       *jobRecorder
}

func newFixture(t *testing.T, store kv.Store, snap *rules.Snapshot) *fixture {
	t.Helper()
	if snap == nil {
		snap = rules.Empty()
	}
	engine, err := rules.NewAdaptiveEngine(store, 64)
	require.NoError(t, err)
	rep := reputation.New(store)
	jobs := &jobRecorder{}
	c := New(time.Second, Deps{
		Bots:       botdetect.New(),
		Limiter:    ratelimit.New(store, ratelimit.Config{Limit: 100, Window: time.Minute}),
		Reputation: rep,
		Rules:      staticRules{snap: snap},
		BOLA:       rules.NewBOLAGuard(store, 0, 0),
		Adaptive:   engine,
		Dispatcher: jobs,
	})
	return &fixture{store: store, rep: rep, classifier: c, jobs: jobs}
}

func honeypotSnapshot(t *testing.T) *rules.Snapshot {
	t.Helper()
	snap, err := rules.Build(context.Background(), &testSource{
		honeypots: []rules.HoneypotConfig{{ID: "hp-admin", EndpointPath: "/admin", Response: `{"ok":true}`, Active: true}},
	})
	require.NoError(t, err)
	return snap
}

type testSource struct {
	honeypots []rules.HoneypotConfig
	adaptive  []rules.AdaptiveConfig
}

func (s *testSource) Honeypots(context.Context) ([]rules.HoneypotConfig, error) { return s.honeypots, nil }
func (s *testSource) GeoRestrictions(context.Context) ([]rules.GeoConfig, error) { return nil, nil }
func (s *testSource) APISchemas(context.Context) ([]rules.SchemaConfig, error) { return nil, nil }
func (s *testSource) AdaptiveRules(context.Context) ([]rules.AdaptiveConfig, error) {
	return s.adaptive, nil
}

func TestClassify_InvalidEvent(t *testing.T) {
	f := newFixture(t, kv.NewMemoryStore(), nil)
	_, err := f.classifier.Classify(context.Background(), nil)
	assert.True(t, errors.Is(err, threat.ErrInvalidEvent))
	_, err = f.classifier.Classify(context.Background(), &threat.RequestEvent{Path: "/"})
	assert.True(t, errors.Is(err, threat.ErrInvalidEvent))
	assert.Empty(t, f.jobs.jobs)
}

func TestClassify_CleanRequest(t *testing.T) {
	f := newFixture(t, kv.NewMemoryStore(), nil)
	v, err := f.classifier.Classify(context.Background(), &threat.RequestEvent{
		SourceAddress: "192.0.2.10", Method: "GET", Path: "/products", UserAgent: "Mozilla/5.0",
	})
	require.NoError(t, err)
	assert.False(t, v.Block)
	assert.Equal(t, threat.SeverityLow, v.Severity)
	assert.Empty(t, v.Signals)

	require.Len(t, f.jobs.jobs, 1)
	assert.NotEmpty(t, f.jobs.jobs[0].Event.ID)
	require.NotNil(t, f.jobs.jobs[0].Reputation)
	assert.Equal(t, reputation.InitialScore, f.jobs.jobs[0].Reputation.Score)
}

func TestClassify_CleanRequestStampsReputation(t *testing.T) {
	store := kv.NewMemoryStore()
	f := newFixture(t, store, nil)
	ctx := context.Background()

	_, err := f.classifier.Classify(ctx, &threat.RequestEvent{
		SourceAddress: "192.0.2.11", Method: "GET", Path: "/home", UserAgent: "Mozilla/5.0",
	})
	require.NoError(t, err)

	item, err := store.Load(ctx, "rep:192.0.2.11")
	require.NoError(t, err)
	assert.NotZero(t, item.Version)

	rec, err := f.rep.Read(ctx, "192.0.2.11")
	require.NoError(t, err)
	assert.Equal(t, reputation.InitialScore, rec.Score)
	assert.Equal(t, threat.SeverityLow, rec.LastRisk)
	assert.False(t, rec.LastSeen.IsZero())
}

func TestClassify_SQLInjectionLogin(t *testing.T) {
	f := newFixture(t, kv.NewMemoryStore(), nil)
	v, err := f.classifier.Classify(context.Background(), &threat.RequestEvent{
		SourceAddress: "203.0.113.20", Method: "GET", Path: "/api/v1/login",
		UserAgent: "Mozilla/5.0", Body: "' OR 1=1 --",
	})
	require.NoError(t, err)
	require.True(t, v.Has(threat.KindSQLInjection))
	assert.Equal(t, threat.SeverityHigh, v.Severity)
	assert.True(t, v.Block)
	assert.Equal(t, threat.KindSQLInjection, v.Dominant)
}

func TestClassify_HoneypotBlocksWithDecoy(t *testing.T) {
	f := newFixture(t, kv.NewMemoryStore(), honeypotSnapshot(t))
	for _, body := range []string{"", "hello", "' OR 1=1 --", "<script>alert(1)</script>"} {
		v, err := f.classifier.Classify(context.Background(), &threat.RequestEvent{
			SourceAddress: "198.51.100.30", Method: "GET", Path: "/admin", UserAgent: "Mozilla/5.0", Body: body,
		})
		require.NoError(t, err)
		assert.True(t, v.Block, body)
		assert.Equal(t, threat.KindHoneypot, v.Dominant, body)
		require.NotNil(t, v.Decoy, body)
		assert.Equal(t, `{"ok":true}`, v.Decoy.Body)
	}
}

func TestClassify_RateLimitOn101st(t *testing.T) {
	f := newFixture(t, kv.NewMemoryStore(), nil)
	ctx := context.Background()
	ev := &threat.RequestEvent{SourceAddress: "192.0.2.50", Method: "GET", Path: "/", UserAgent: "Mozilla/5.0"}

	for i := 1; i <= 100; i++ {
		v, err := f.classifier.Classify(ctx, ev)
		require.NoError(t, err)
		require.False(t, v.Has(threat.KindRateLimit), "request %d", i)
	}
	v, err := f.classifier.Classify(ctx, ev)
	require.NoError(t, err)
	assert.True(t, v.Has(threat.KindRateLimit))
	assert.True(t, v.Block)
}

func TestClassify_ReputationDecay(t *testing.T) {
	f := newFixture(t, kv.NewMemoryStore(), nil)
	ctx := context.Background()
	addr := "203.0.113.77"

	rec, err := f.rep.Read(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, 50, rec.Score)

	_, err = f.classifier.Classify(ctx, &threat.RequestEvent{
		SourceAddress: addr, Path: "/search", UserAgent: "Mozilla/5.0", Body: "' OR 1=1 --",
	})
	require.NoError(t, err)
	rec, err = f.rep.Read(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, 30, rec.Score)

	v, err := f.classifier.Classify(ctx, &threat.RequestEvent{
		SourceAddress: addr, Path: "/run", UserAgent: "Mozilla/5.0", Body: "; cat /etc/passwd",
	})
	require.NoError(t, err)
	assert.Equal(t, threat.SeverityCritical, v.Severity)
	rec, err = f.rep.Read(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, 0, rec.Score)

	// a poor reputation alone does not lower the score further
	v, err = f.classifier.Classify(ctx, &threat.RequestEvent{SourceAddress: addr, Path: "/", UserAgent: "Mozilla/5.0"})
	require.NoError(t, err)
	assert.True(t, v.Has(threat.KindIPReputation))
	assert.True(t, v.Block)
}

func TestClassify_AdaptiveTriggersHandedToDispatcher(t *testing.T) {
	snap, err := rules.Build(context.Background(), &testSource{
		adaptive: []rules.AdaptiveConfig{{ID: "ad-1", SourceAddress: "203.0.113.1", PathPattern: "/admin", Action: "challenge", Active: true}},
	})
	require.NoError(t, err)
	f := newFixture(t, kv.NewMemoryStore(), snap)

	v, err := f.classifier.Classify(context.Background(), &threat.RequestEvent{
		ID: "evt-9", SourceAddress: "198.51.100.1", Path: "/admin/login", UserAgent: "Mozilla/5.0",
	})
	require.NoError(t, err)
	require.True(t, v.Has(threat.KindAdaptiveRule))

	require.Len(t, f.jobs.jobs, 1)
	require.Len(t, f.jobs.jobs[0].Triggers, 1)
	assert.Equal(t, "ad-1", f.jobs.jobs[0].Triggers[0].RuleID)
}

type slowStore struct {
	*kv.MemoryStore
	delay time.Duration
}

func (s slowStore) Window(ctx context.Context, key, member string, at time.Time, window time.Duration) (int, error) {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	return s.MemoryStore.Window(ctx, key, member, at, window)
}

type panicStore struct{ *kv.MemoryStore }

func (panicStore) Window(context.Context, string, string, time.Time, time.Duration) (int, error) {
	panic("window exploded")
}

func TestClassify_SlowDetectorIsDropped(t *testing.T) {
	store := slowStore{MemoryStore: kv.NewMemoryStore(), delay: time.Second}
	c := New(20*time.Millisecond, Deps{
		Limiter: ratelimit.New(store, ratelimit.Config{Limit: 0}),
	})
	start := time.Now()
	v, err := c.Classify(context.Background(), &threat.RequestEvent{
		SourceAddress: "192.0.2.1", Path: "/", Body: "' OR 1=1 --",
	})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.True(t, v.Has(threat.KindSQLInjection))
	assert.False(t, v.Has(threat.KindRateLimit))
}

func TestClassify_PanickingDetectorIsDropped(t *testing.T) {
	store := panicStore{kv.NewMemoryStore()}
	c := New(time.Second, Deps{
		Bots:    botdetect.New(),
		Limiter: ratelimit.New(store, ratelimit.Config{}),
	})
	v, err := c.Classify(context.Background(), &threat.RequestEvent{SourceAddress: "192.0.2.1", UserAgent: "sqlmap/1.7"})
	require.NoError(t, err)
	assert.True(t, v.Has(threat.KindMaliciousBot))
	assert.False(t, v.Has(threat.KindRateLimit))
}

func TestClassify_DoesNotMutateCallerEvent(t *testing.T) {
	f := newFixture(t, kv.NewMemoryStore(), nil)
	ev := &threat.RequestEvent{SourceAddress: "192.0.2.1", Path: "/"}
	_, err := f.classifier.Classify(context.Background(), ev)
	require.NoError(t, err)
	assert.Empty(t, ev.ID)
	assert.True(t, ev.ReceivedAt.IsZero())
}

func TestClassify_Concurrent(t *testing.T) {
	f := newFixture(t, kv.NewMemoryStore(), honeypotSnapshot(t))
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			path := "/"
			if i%2 == 0 {
				path = "/admin"
			}
			addr := fmt.Sprintf("192.0.2.%d", i+1)
			v, err := f.classifier.Classify(context.Background(), &threat.RequestEvent{SourceAddress: addr, Path: path})
			assert.NoError(t, err)
			assert.Equal(t, path == "/admin", v.Block)
		}(i)
	}
	wg.Wait()
}

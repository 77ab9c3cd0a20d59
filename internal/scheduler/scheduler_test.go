package scheduler

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/thedetect/UTB2/internal/astro"
	"github.com/thedetect/UTB2/internal/delivery"
	"github.com/thedetect/UTB2/internal/dispatch"
	"github.com/thedetect/UTB2/internal/domain"
	"github.com/thedetect/UTB2/internal/entitlement"
	"github.com/thedetect/UTB2/internal/ephemeris"
	"github.com/thedetect/UTB2/internal/interpret"
	"github.com/thedetect/UTB2/internal/store"
)

// fixedSky reports the same transit positions at any instant.
type fixedSky map[ephemeris.Body]float64

func (f fixedSky) Positions(ctx context.Context, at time.Time, bodies []ephemeris.Body, _ *ephemeris.Location) (map[ephemeris.Body]ephemeris.Position, error) {
	out := make(map[ephemeris.Body]ephemeris.Position, len(bodies))
	for _, b := range bodies {
		if lon, ok := f[b]; ok {
			out[b] = ephemeris.Position{Longitude: lon}
		}
	}
	return out, nil
}

type delivered struct {
	userID int64
	at     time.Time
	text   string
}

type recordingSink struct {
	mu    sync.Mutex
	clock *time.Time
	out   []delivered
}

func (r *recordingSink) Send(ctx context.Context, userID int64, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.out = append(r.out, delivered{userID: userID, at: *r.clock, text: text})
	return nil
}

type env struct {
	repo  *store.SQLiteRepo
	sink  *recordingSink
	sched *Scheduler
	now   time.Time
}

func newEnv(t *testing.T, start time.Time) *env {
	t.Helper()
	repo, err := store.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "sched.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	engine, err := interpret.NewEmbedded(3)
	if err != nil {
		t.Fatal(err)
	}
	e := &env{repo: repo, now: start}
	e.sink = &recordingSink{clock: &e.now}

	// Transit Sun at 13° Scorpio.
	calc := astro.NewCalculator(fixedSky{ephemeris.Sun: 223}, []ephemeris.Body{ephemeris.Sun}, time.Second)
	d := dispatch.New(repo, entitlement.New(), calc, engine, e.sink, dispatch.Options{
		Orb:             6,
		Lease:           10 * time.Minute,
		DeliveryTimeout: time.Second,
		Retry:           delivery.Backoff{MaxAttempts: 3, Initial: time.Millisecond},
	}, zap.NewNop())
	e.sched = New(repo, d, zap.NewNop(), 30*time.Second, 4).WithClock(func() time.Time { return e.now })
	return e
}

// addUser registers a user with natal Sun at 15° Leo and a delivery time.
func (e *env) addUser(t *testing.T, id int64, tz string, minute int) {
	t.Helper()
	ctx := context.Background()
	if _, _, err := e.repo.EnsureUser(ctx, id, tz, e.now); err != nil {
		t.Fatal(err)
	}
	b := domain.BirthData{Date: time.Date(1990, 8, 8, 0, 0, 0, 0, time.UTC), Minute: 720, Lat: 55.75, Lon: 37.62, TZ: tz}
	if err := e.repo.SaveBirthData(ctx, id, b, domain.Chart{"Sun": 135}, e.now); err != nil {
		t.Fatal(err)
	}
	if err := e.repo.SetDeliveryTime(ctx, id, minute); err != nil {
		t.Fatal(err)
	}
}

// runUntil ticks every 30s of simulated time up to end.
func (e *env) runUntil(end time.Time) {
	for !e.now.After(end) {
		e.sched.RunOnce(context.Background())
		e.now = e.now.Add(30 * time.Second)
	}
}

func TestMoscowMorningDispatchedOnce(t *testing.T) {
	msk, _ := time.LoadLocation("Europe/Moscow")
	start := time.Date(2025, 11, 5, 7, 58, 10, 0, msk).UTC()
	e := newEnv(t, start)
	e.addUser(t, 1, "Europe/Moscow", 8*60)

	e.runUntil(start.Add(10 * time.Minute))

	if len(e.sink.out) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(e.sink.out))
	}
	got := e.sink.out[0]
	want := time.Date(2025, 11, 5, 8, 0, 10, 0, msk)
	if !got.at.Equal(want) {
		t.Fatalf("delivered at %v, want first tick after 08:00 (%v)", got.at.In(msk), want)
	}
	if !strings.Contains(got.text, "Sun squares your natal Sun") {
		t.Fatalf("headline is not the Sun square: %q", got.text)
	}

	// Next local day delivers again, exactly once.
	e.now = time.Date(2025, 11, 6, 7, 59, 40, 0, msk).UTC()
	e.runUntil(e.now.Add(5 * time.Minute))
	if len(e.sink.out) != 2 {
		t.Fatalf("deliveries after second day = %d, want 2", len(e.sink.out))
	}
}

func TestRunOnceAcrossTimezonesAndPages(t *testing.T) {
	// 05:00 UTC is 08:00 in Moscow and 14:00 in Tokyo.
	start := time.Date(2025, 11, 5, 5, 0, 0, 0, time.UTC)
	e := newEnv(t, start)
	e.sched.pageSize = 2
	e.addUser(t, 1, "Europe/Moscow", 8*60)
	e.addUser(t, 2, "Asia/Tokyo", 8*60)
	e.addUser(t, 3, "Asia/Tokyo", 15*60)
	e.addUser(t, 4, "America/New_York", 8*60)
	e.addUser(t, 5, "Europe/Moscow", 7*60+59)

	st := e.sched.RunOnce(context.Background())
	if st.Scanned != 5 || st.Due != 3 || st.Sent != 3 {
		t.Fatalf("stats = %+v, want scanned 5 due 3 sent 3", st)
	}
	st = e.sched.RunOnce(context.Background())
	if st.Due != 0 || st.Sent != 0 {
		t.Fatalf("second tick stats = %+v, want nothing due", st)
	}
	users := map[int64]bool{}
	for _, d := range e.sink.out {
		users[d.userID] = true
	}
	for _, id := range []int64{1, 2, 5} {
		if !users[id] {
			t.Fatalf("user %d not delivered: %+v", id, users)
		}
	}
}

func TestPausedUserIsNotScanned(t *testing.T) {
	start := time.Date(2025, 11, 5, 5, 0, 0, 0, time.UTC)
	e := newEnv(t, start)
	e.addUser(t, 1, "Europe/Moscow", 8*60)
	if err := e.repo.SetEnabled(context.Background(), 1, false); err != nil {
		t.Fatal(err)
	}
	st := e.sched.RunOnce(context.Background())
	if st.Scanned != 0 || len(e.sink.out) != 0 {
		t.Fatalf("paused user dispatched: %+v", st)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	e := newEnv(t, time.Date(2025, 11, 5, 5, 0, 0, 0, time.UTC))
	e.sched.interval = time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.sched.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

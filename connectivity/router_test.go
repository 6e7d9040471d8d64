package connectivity

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/viewtrans/dbopen"
)

func routesDB(t *testing.T) *sql.DB {
	t.Helper()
	db := dbopen.OpenMemory(t)
	if err := Init(db); err != nil {
		t.Fatal(err)
	}
	return db
}

func echo(_ context.Context, payload []byte) ([]byte, error) { return payload, nil }

func TestCall_Local(t *testing.T) {
	r := New()
	r.RegisterLocal("translate_batch", echo)

	resp, err := r.Call(context.Background(), "translate_batch", []byte("hi"))
	if err != nil || string(resp) != "hi" {
		t.Fatalf("got %q, %v", resp, err)
	}
}

func TestCall_ServiceNotFound(t *testing.T) {
	_, err := New().Call(context.Background(), "ghost", nil)
	var nf *ErrServiceNotFound
	if !errors.As(err, &nf) || nf.Service != "ghost" {
		t.Fatalf("got %v, want ErrServiceNotFound", err)
	}
}

func TestReload_RemoteWinsOverLocal(t *testing.T) {
	db := routesDB(t)
	r := New()
	r.RegisterLocal("svc", func(context.Context, []byte) ([]byte, error) { return []byte("local"), nil })

	var closed atomic.Int32
	r.RegisterTransport(StrategyHTTP, func(endpoint string, _ json.RawMessage) (Handler, func(), error) {
		return func(context.Context, []byte) ([]byte, error) { return []byte("remote " + endpoint), nil },
			func() { closed.Add(1) }, nil
	})

	PutRoute(context.Background(), db, Route{Service: "svc", Strategy: StrategyHTTP, Endpoint: "http://a"})
	if err := r.Reload(context.Background(), db); err != nil {
		t.Fatal(err)
	}
	resp, _ := r.Call(context.Background(), "svc", nil)
	if string(resp) != "remote http://a" {
		t.Fatalf("got %q", resp)
	}

	// Unchanged route: handler kept, nothing closed.
	r.Reload(context.Background(), db)
	if closed.Load() != 0 {
		t.Fatalf("closed %d handlers on identical reload", closed.Load())
	}

	// Changed endpoint: old handler closed.
	PutRoute(context.Background(), db, Route{Service: "svc", Strategy: StrategyHTTP, Endpoint: "http://b"})
	r.Reload(context.Background(), db)
	if closed.Load() != 1 {
		t.Fatalf("closed: got %d, want 1", closed.Load())
	}

	// Removed route: falls back to local.
	DeleteRoute(context.Background(), db, "svc")
	r.Reload(context.Background(), db)
	resp, _ = r.Call(context.Background(), "svc", nil)
	if string(resp) != "local" || closed.Load() != 2 {
		t.Fatalf("after delete: got %q, closed %d", resp, closed.Load())
	}
}

func TestReload_Noop(t *testing.T) {
	db := routesDB(t)
	r := New()
	r.RegisterLocal("svc", func(context.Context, []byte) ([]byte, error) {
		t.Fatal("local handler called for a noop route")
		return nil, nil
	})
	PutRoute(context.Background(), db, Route{Service: "svc", Strategy: StrategyNoop})
	r.Reload(context.Background(), db)

	resp, err := r.Call(context.Background(), "svc", []byte("x"))
	if err != nil || resp != nil {
		t.Fatalf("got %q, %v", resp, err)
	}
}

func TestReload_MissingTransportSkipped(t *testing.T) {
	db := routesDB(t)
	r := New()
	r.RegisterLocal("svc", echo)
	PutRoute(context.Background(), db, Route{Service: "svc", Strategy: StrategyHTTP, Endpoint: "http://x"})

	if err := r.Reload(context.Background(), db); err != nil {
		t.Fatal(err)
	}
	resp, err := r.Call(context.Background(), "svc", []byte("ok"))
	if err != nil || string(resp) != "ok" {
		t.Fatalf("got %q, %v", resp, err)
	}
	if got := r.Routes(); len(got) != 1 || got[0].Service != "svc" {
		t.Fatalf("Routes: got %+v", got)
	}
}

func TestWatch_PicksUpChanges(t *testing.T) {
	path := t.TempDir() + "/routes.db"
	db, err := dbopen.Open(path, dbopen.WithSchema(Schema))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	r := New()
	r.RegisterLocal("svc", echo)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Watch(ctx, db, 10*time.Millisecond)

	// data_version only moves for writes made by another connection.
	writer, err := dbopen.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer writer.Close()

	time.Sleep(30 * time.Millisecond)
	PutRoute(context.Background(), writer, Route{Service: "svc", Strategy: StrategyNoop})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if resp, _ := r.Call(context.Background(), "svc", []byte("x")); resp == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("route change never picked up")
}

func TestMiddleware_RouterWide(t *testing.T) {
	var seen string
	spy := func(next Handler) Handler {
		return func(ctx context.Context, p []byte) ([]byte, error) {
			seen = ServiceFrom(ctx)
			return next(ctx, p)
		}
	}
	r := New(WithMiddleware(spy))
	r.RegisterLocal("translate_batch", echo)
	r.Call(context.Background(), "translate_batch", nil)
	if seen != "translate_batch" {
		t.Fatalf("ServiceFrom: got %q", seen)
	}
}

func TestChain_Order(t *testing.T) {
	var order []string
	mk := func(name string) HandlerMiddleware {
		return func(next Handler) Handler {
			return func(ctx context.Context, p []byte) ([]byte, error) {
				order = append(order, name)
				return next(ctx, p)
			}
		}
	}
	Chain(mk("a"), mk("b"), mk("c"))(echo)(context.Background(), nil)
	if len(order) != 3 || order[0] != "a" || order[2] != "c" {
		t.Fatalf("order: got %v", order)
	}
}

func TestRecovery(t *testing.T) {
	h := Recovery(slog.Default())(func(context.Context, []byte) ([]byte, error) { panic("boom") })
	_, err := h(context.Background(), nil)
	var p *ErrPanic
	if !errors.As(err, &p) || p.Value != "boom" {
		t.Fatalf("got %v, want ErrPanic", err)
	}
}

func TestTimeout(t *testing.T) {
	h := Timeout(10 * time.Millisecond)(func(ctx context.Context, _ []byte) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	if _, err := h(context.Background(), nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v", err)
	}
}

func TestWithRetry(t *testing.T) {
	var calls atomic.Int32
	h := WithRetry(3, time.Millisecond, nil)(func(context.Context, []byte) ([]byte, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("transient")
		}
		return []byte("ok"), nil
	})
	resp, err := h(context.Background(), nil)
	if err != nil || string(resp) != "ok" || calls.Load() != 3 {
		t.Fatalf("got %q, %v after %d calls", resp, err, calls.Load())
	}
}

func TestWithRetry_NoRetryOnClientStatus(t *testing.T) {
	var calls atomic.Int32
	h := WithRetry(3, time.Millisecond, nil)(func(context.Context, []byte) ([]byte, error) {
		calls.Add(1)
		return nil, &ErrRemoteStatus{Status: 400}
	})
	h(context.Background(), nil)
	if calls.Load() != 1 {
		t.Fatalf("calls: got %d, want 1", calls.Load())
	}
}

func TestCircuitBreaker(t *testing.T) {
	now := time.Unix(0, 0)
	cb := NewCircuitBreaker(
		WithBreakerThreshold(2),
		WithBreakerCooldown(time.Minute),
		WithBreakerProbes(1),
		WithBreakerClock(func() time.Time { return now }),
	)
	fail := errors.New("down")

	cb.Record(fail)
	cb.Record(fail)
	if cb.State() != BreakerOpen || cb.Allow() {
		t.Fatalf("state: got %s, want open", cb.State())
	}
	now = now.Add(time.Minute)
	if cb.State() != BreakerHalfOpen {
		t.Fatalf("state: got %s, want half-open", cb.State())
	}
	cb.Record(nil)
	if cb.State() != BreakerClosed {
		t.Fatalf("state: got %s, want closed", cb.State())
	}
}

func TestWithCircuitBreaker_PerService(t *testing.T) {
	r := New(WithMiddleware(WithCircuitBreaker(WithBreakerThreshold(1))))
	r.RegisterLocal("bad", func(context.Context, []byte) ([]byte, error) { return nil, errors.New("down") })
	r.RegisterLocal("good", echo)

	r.Call(context.Background(), "bad", nil)
	_, err := r.Call(context.Background(), "bad", nil)
	var open *ErrCircuitOpen
	if !errors.As(err, &open) {
		t.Fatalf("got %v, want ErrCircuitOpen", err)
	}
	if _, err := r.Call(context.Background(), "good", nil); err != nil {
		t.Fatalf("good service affected by bad breaker: %v", err)
	}
}

func TestHTTP_RoundTrip(t *testing.T) {
	server := New()
	server.RegisterLocal("translate_batch", func(_ context.Context, p []byte) ([]byte, error) {
		return append([]byte("srv:"), p...), nil
	})
	mux := http.NewServeMux()
	mux.Handle("/rpc/", server)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	h, closeFn, err := HTTPFactory()(srv.URL+"/rpc/translate_batch", json.RawMessage(`{"timeout_ms":2000}`))
	if err != nil {
		t.Fatal(err)
	}
	defer closeFn()
	resp, err := h(context.Background(), []byte("x"))
	if err != nil || string(resp) != "srv:x" {
		t.Fatalf("got %q, %v", resp, err)
	}

	missing, _, _ := HTTPFactory()(srv.URL+"/rpc/ghost", nil)
	_, err = missing(context.Background(), nil)
	var st *ErrRemoteStatus
	if !errors.As(err, &st) || st.Status != http.StatusNotFound {
		t.Fatalf("got %v, want 404 ErrRemoteStatus", err)
	}
}

func TestHTTPFactory_RejectsScheme(t *testing.T) {
	if _, _, err := HTTPFactory()("ftp://host/x", nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestServeHTTP_MethodNotAllowed(t *testing.T) {
	rec := httptest.NewRecorder()
	New().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rpc/x", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status: got %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if !bytes.Contains(body, []byte("not allowed")) {
		t.Fatalf("body: %q", body)
	}
}

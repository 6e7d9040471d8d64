package watch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/viewtrans/dbopen"
)

func setUserVersion(t *testing.T, db *sql.DB, v int) {
	t.Helper()
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", v)); err != nil {
		t.Fatal(err)
	}
}

func start(t *testing.T, w *Watcher, action func(context.Context) error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx, action)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	time.Sleep(40 * time.Millisecond)
}

func TestMaxColumn(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(`CREATE TABLE items (id INTEGER PRIMARY KEY, "updated at" INTEGER)`))
	ctx := context.Background()

	det := MaxColumn("items", "updated at")
	if v, err := det(ctx, db); err != nil || v != 0 {
		t.Fatalf("empty table: got %d, %v", v, err)
	}
	db.Exec(`INSERT INTO items ("updated at") VALUES (100), (40)`)
	if v, err := det(ctx, db); err != nil || v != 100 {
		t.Fatalf("got %d, %v, want 100", v, err)
	}
}

func TestRun_BaselineDoesNotFire(t *testing.T) {
	db := dbopen.OpenMemory(t)
	setUserVersion(t, db, 7)

	var calls atomic.Int32
	w := New(db, Options{Interval: 10 * time.Millisecond, Detector: UserVersion})
	start(t, w, func(context.Context) error { calls.Add(1); return nil })

	time.Sleep(60 * time.Millisecond)
	if calls.Load() != 0 || w.Version() != 7 {
		t.Fatalf("calls %d, version %d", calls.Load(), w.Version())
	}
}

func TestRun_FiresOnChange(t *testing.T) {
	db := dbopen.OpenMemory(t)

	var calls atomic.Int32
	w := New(db, Options{Interval: 10 * time.Millisecond, Detector: UserVersion})
	start(t, w, func(context.Context) error { calls.Add(1); return nil })

	setUserVersion(t, db, 1)
	time.Sleep(80 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Fatalf("calls: got %d, want 1", got)
	}

	setUserVersion(t, db, 2)
	time.Sleep(80 * time.Millisecond)
	if got := calls.Load(); got != 2 {
		t.Fatalf("calls: got %d, want 2", got)
	}
	if w.Version() != 2 || w.Stats().Reloads != 2 {
		t.Fatalf("version %d, stats %+v", w.Version(), w.Stats())
	}
}

func TestRun_Debounce(t *testing.T) {
	db := dbopen.OpenMemory(t)

	var calls atomic.Int32
	w := New(db, Options{Interval: 10 * time.Millisecond, Debounce: 150 * time.Millisecond, Detector: UserVersion})
	start(t, w, func(context.Context) error { calls.Add(1); return nil })

	for i := 1; i <= 4; i++ {
		setUserVersion(t, db, i)
		time.Sleep(20 * time.Millisecond)
	}
	if got := calls.Load(); got != 0 {
		t.Fatalf("fired during the debounce window: %d", got)
	}

	time.Sleep(300 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Fatalf("calls: got %d, want 1", got)
	}
	if w.Version() != 4 {
		t.Fatalf("version: got %d, want 4", w.Version())
	}
}

func TestRun_FailedActionRetried(t *testing.T) {
	db := dbopen.OpenMemory(t)

	var calls atomic.Int32
	w := New(db, Options{Interval: 10 * time.Millisecond, Detector: UserVersion})
	start(t, w, func(context.Context) error {
		if calls.Add(1) == 1 {
			return errors.New("reload failed")
		}
		return nil
	})

	setUserVersion(t, db, 1)
	time.Sleep(120 * time.Millisecond)

	if got := calls.Load(); got != 2 {
		t.Fatalf("calls: got %d, want 2", got)
	}
	if w.Version() != 1 || w.Stats().Failures != 1 {
		t.Fatalf("version %d, stats %+v", w.Version(), w.Stats())
	}
}

package audit

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/BikeshR/menorepo-sub007/internal/breaker"
	"github.com/BikeshR/menorepo-sub007/internal/events"
	"github.com/BikeshR/menorepo-sub007/pkg/db"
)

func TestRecordStampsSequence(t *testing.T) {
	sink := &MemorySink{}
	fixed := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	l := NewLogger(sink, WithClock(func() time.Time { return fixed }))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := l.Record(ctx, Entry{Category: CategoryOrder, Subject: "o-1", Outcome: "open"})
		require.NoError(t, err)
	}
	got := sink.Entries()
	require.Len(t, got, 3)
	for i, e := range got {
		require.EqualValues(t, i+1, e.Seq)
		require.True(t, e.Timestamp.Equal(fixed))
	}
}

func TestRecordFailsLoudly(t *testing.T) {
	boom := errors.New("disk full")
	sink := &MemorySink{Err: boom}
	l := NewLogger(sink)

	_, err := l.Record(context.Background(), Entry{Category: CategoryRisk, Subject: "o-1", Outcome: "approved"})
	require.ErrorIs(t, err, ErrSinkUnavailable)
	require.ErrorContains(t, err, "disk full")

	// the failed entry does not consume a sequence number
	sink.SetErr(nil)
	e, err := l.Record(context.Background(), Entry{Category: CategoryRisk, Subject: "o-1", Outcome: "approved"})
	require.NoError(t, err)
	require.EqualValues(t, 1, e.Seq)
}

func TestRecordRequiresFields(t *testing.T) {
	l := NewLogger(&MemorySink{})
	_, err := l.Record(context.Background(), Entry{Category: CategoryOrder})
	require.Error(t, err)
}

func TestBoltSinkResumesSequence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	ctx := context.Background()

	sink, err := OpenBolt(path)
	require.NoError(t, err)
	l := NewLogger(sink)
	require.NoError(t, l.Init(ctx))
	for _, outcome := range []string{"pending", "open", "filled"} {
		_, err := l.Record(ctx, Entry{Category: CategoryOrder, Subject: "o-9", Outcome: outcome, Detail: map[string]any{"qty": 1.5}})
		require.NoError(t, err)
	}
	require.NoError(t, sink.Close())

	sink, err = OpenBolt(path)
	require.NoError(t, err)
	defer sink.Close()
	l = NewLogger(sink)
	require.NoError(t, l.Init(ctx))
	e, err := l.Record(ctx, Entry{Category: CategoryBreaker, Subject: "paper", Outcome: "open"})
	require.NoError(t, err)
	require.EqualValues(t, 4, e.Seq)

	hist, err := l.BySubject(ctx, "o-9")
	require.NoError(t, err)
	require.Len(t, hist, 3)
	require.Equal(t, "filled", hist[2].Outcome)
	require.Equal(t, 1.5, hist[0].Detail["qty"])

	recent, err := l.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, CategoryBreaker, recent[0].Category)
}

func TestSQLSink(t *testing.T) {
	database, err := db.New(":memory:")
	require.NoError(t, err)
	defer database.Close()
	require.NoError(t, db.ApplyMigrations(database))

	ctx := context.Background()
	l := NewLogger(NewSQLSink(database))
	require.NoError(t, l.Init(ctx))

	_, err = l.Record(ctx, Entry{Category: CategoryOrder, Subject: "o-2", Outcome: "rejected", Detail: map[string]any{"code": "position_limit"}})
	require.NoError(t, err)
	_, err = l.Record(ctx, Entry{Category: CategorySignal, Subject: "BTCUSDT", Outcome: "below_threshold"})
	require.NoError(t, err)

	hist, err := l.BySubject(ctx, "o-2")
	require.NoError(t, err)
	require.Len(t, hist, 1)
	require.Equal(t, "position_limit", hist[0].Detail["code"])

	recent, err := l.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.EqualValues(t, 2, recent[0].Seq)
}

func TestBreakerHook(t *testing.T) {
	sink := &MemorySink{}
	bus := events.NewBus(events.Config{})
	defer bus.Close()
	sub, err := bus.Subscribe(events.KindSystem)
	require.NoError(t, err)

	b := breaker.New(breaker.Settings{
		Name:          "execution",
		MaxFailures:   1,
		OnStateChange: BreakerHook(NewLogger(sink), bus, nil),
	})
	_ = b.Execute(func() error { return errors.New("boom") })

	got := sink.Entries()
	require.Len(t, got, 1)
	require.Equal(t, CategoryBreaker, got[0].Category)
	require.Equal(t, "execution", got[0].Subject)
	require.Equal(t, "open", got[0].Outcome)
	require.Equal(t, "closed", got[0].Detail["from"])

	ev := <-sub.C()
	sys, ok := ev.System()
	require.True(t, ok)
	require.Equal(t, events.LevelError, sys.Level)
}

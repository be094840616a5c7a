package redisstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kids-rollcall/db"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := Connect(context.Background(), &redis.Options{Addr: mr.Addr()})
	require.NoError(t, err)
	store := New(client, time.Second)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

// failPipelineHook fails the next pipeline that carries cmd, before anything
// reaches the server.
type failPipelineHook struct {
	mu    sync.Mutex
	cmd   string
	fails int
}

var errPipelineDown = errors.New("connection reset")

func (h *failPipelineHook) BeforeProcess(ctx context.Context, _ redis.Cmder) (context.Context, error) {
	return ctx, nil
}

func (h *failPipelineHook) AfterProcess(context.Context, redis.Cmder) error {
	return nil
}

func (h *failPipelineHook) BeforeProcessPipeline(ctx context.Context, cmds []redis.Cmder) (context.Context, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fails == 0 {
		return ctx, nil
	}
	for _, cmd := range cmds {
		if cmd.Name() == h.cmd {
			h.fails--
			return ctx, errPipelineDown
		}
	}
	return ctx, nil
}

func (h *failPipelineHook) AfterProcessPipeline(context.Context, []redis.Cmder) error {
	return nil
}

func TestConnectFailsWithoutServer(t *testing.T) {
	_, err := Connect(context.Background(), &redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	require.Error(t, err)
}

func TestDateScore(t *testing.T) {
	score, err := dateScore("2024-06-01")
	require.NoError(t, err)
	assert.Equal(t, float64(20240601), score)

	_, err = dateScore("June 1st")
	assert.Error(t, err)
}

func TestInsertDayRejectsDuplicateDate(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	var first int64
	require.NoError(t, store.Atomically(ctx, "2024-06-01", func(tx db.Tx) error {
		day, err := tx.InsertDay(ctx, "2024-06-01")
		first = day.ID
		return err
	}))

	err := store.Atomically(ctx, "2024-06-01", func(tx db.Tx) error {
		_, err := tx.InsertDay(ctx, "2024-06-01")
		return err
	})
	assert.ErrorIs(t, err, db.ErrDuplicateDay)

	err = store.Atomically(ctx, "2024-06-01", func(tx db.Tx) error {
		day, err := tx.DayByDate(ctx, "2024-06-01")
		if err != nil {
			return err
		}
		assert.Equal(t, first, day.ID)
		return nil
	})
	require.NoError(t, err)
}

func TestAtomicallyReleasesLock(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Atomically(ctx, "2024-06-01", func(db.Tx) error {
		assert.True(t, mr.Exists(getLockKey("2024-06-01")))
		return nil
	}))
	assert.False(t, mr.Exists(getLockKey("2024-06-01")))
}

func TestAtomicallyWaitsForHeldLock(t *testing.T) {
	store, mr := newTestStore(t)
	require.NoError(t, mr.Set(getLockKey("2024-06-01"), "someone-else"))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	called := false
	err := store.Atomically(ctx, "2024-06-01", func(db.Tx) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, called)
	assert.True(t, mr.Exists(getLockKey("2024-06-01")), "a foreign lock must not be released")
}

func TestAtomicallySerializesSameKey(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	var (
		mu      sync.Mutex
		inside  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.Atomically(ctx, "2024-06-01", func(db.Tx) error {
				mu.Lock()
				inside++
				if inside > maxSeen {
					maxSeen = inside
				}
				mu.Unlock()
				time.Sleep(5 * time.Millisecond)
				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
}

func TestInsertEntriesKeepsMarks(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	var dayID, kidID int64
	require.NoError(t, store.Atomically(ctx, "2024-06-01", func(tx db.Tx) error {
		kid, err := tx.InsertKid(ctx, "Alice")
		if err != nil {
			return err
		}
		day, err := tx.InsertDay(ctx, "2024-06-01")
		if err != nil {
			return err
		}
		dayID, kidID = day.ID, kid.ID
		return tx.InsertEntries(ctx, day.ID, []int64{kid.ID})
	}))

	matched, err := store.SetPresent(ctx, dayID, kidID, true)
	require.NoError(t, err)
	require.True(t, matched)

	require.NoError(t, store.Atomically(ctx, "2024-06-01", func(tx db.Tx) error {
		return tx.InsertEntries(ctx, dayID, []int64{kidID})
	}))

	entries, err := store.SheetEntries(ctx, dayID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Alice", entries[0].Name)
	assert.True(t, entries[0].Present)
}

func TestSetPresentMissingEntry(t *testing.T) {
	store, mr := newTestStore(t)

	matched, err := store.SetPresent(context.Background(), 3, 9, true)
	require.NoError(t, err)
	assert.False(t, matched)
	assert.False(t, mr.Exists(getAttendanceKey(3)), "no entry may be created")
}

func TestListDaysNewestFirst(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	for _, date := range []string{"2024-06-02", "2023-12-31", "2024-06-10"} {
		date := date
		require.NoError(t, store.Atomically(ctx, date, func(tx db.Tx) error {
			_, err := tx.InsertDay(ctx, date)
			return err
		}))
	}

	days, err := store.ListDays(ctx)
	require.NoError(t, err)
	require.Len(t, days, 3)
	assert.Equal(t, []string{"2024-06-10", "2024-06-02", "2023-12-31"},
		[]string{days[0].Date, days[1].Date, days[2].Date})
}

func TestListKidsCreationOrder(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Atomically(ctx, "k", func(tx db.Tx) error {
		for _, name := range []string{"Zoe", "Adam", "Mia"} {
			if _, err := tx.InsertKid(ctx, name); err != nil {
				return err
			}
		}
		return nil
	}))

	kids, err := store.ListKids(ctx)
	require.NoError(t, err)
	require.Len(t, kids, 3)
	assert.Equal(t, "Zoe", kids[0].Name)
	assert.Equal(t, "Adam", kids[1].Name)
	assert.Equal(t, "Mia", kids[2].Name)
	assert.Less(t, kids[0].ID, kids[1].ID)
}

func TestDayByIDNotFound(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.DayByID(context.Background(), 12)
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestAtomicallyDiscardsWritesOnError(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.Atomically(ctx, "2024-06-01", func(tx db.Tx) error {
		kid, err := tx.InsertKid(ctx, "Alice")
		if err != nil {
			return err
		}
		day, err := tx.InsertDay(ctx, "2024-06-01")
		if err != nil {
			return err
		}
		if err := tx.InsertEntries(ctx, day.ID, []int64{kid.ID}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	kids, err := store.ListKids(ctx)
	require.NoError(t, err)
	assert.Empty(t, kids)
	days, err := store.ListDays(ctx)
	require.NoError(t, err)
	assert.Empty(t, days)
	assert.False(t, mr.Exists(daysByDateKey))
	assert.False(t, mr.Exists(getDayInfoKey(1)))
	assert.False(t, mr.Exists(getAttendanceKey(1)))
}

func TestAtomicallyFailedCommitWritesNothing(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	store.Client.AddHook(&failPipelineHook{cmd: "hsetnx", fails: 1})

	require.NoError(t, store.Atomically(ctx, "roster", func(tx db.Tx) error {
		_, err := tx.InsertKid(ctx, "Alice")
		return err
	}))

	materialize := func(tx db.Tx) error {
		if _, err := tx.DayByDate(ctx, "2024-06-01"); err == nil {
			return nil
		}
		day, err := tx.InsertDay(ctx, "2024-06-01")
		if err != nil {
			return err
		}
		ids, err := tx.KidIDs(ctx)
		if err != nil {
			return err
		}
		return tx.InsertEntries(ctx, day.ID, ids)
	}

	err := store.Atomically(ctx, "2024-06-01", materialize)
	require.ErrorIs(t, err, errPipelineDown)
	days, err := store.ListDays(ctx)
	require.NoError(t, err)
	assert.Empty(t, days, "a failed commit must not leave the date sealed")

	require.NoError(t, store.Atomically(ctx, "2024-06-01", materialize))
	days, err = store.ListDays(ctx)
	require.NoError(t, err)
	require.Len(t, days, 1)
	entries, err := store.SheetEntries(ctx, days[0].ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Alice", entries[0].Name)
}

func TestInsertDayTakenDateKeepsSequence(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := store.Atomically(ctx, "2024-06-01", func(tx db.Tx) error {
			_, err := tx.InsertDay(ctx, "2024-06-01")
			return err
		})
		if i == 0 {
			require.NoError(t, err)
		} else {
			require.ErrorIs(t, err, db.ErrDuplicateDay)
		}
	}
	seq, err := mr.Get(daySeqKey)
	require.NoError(t, err)
	assert.Equal(t, "1", seq)

	require.NoError(t, store.Atomically(ctx, "2024-06-02", func(tx db.Tx) error {
		day, err := tx.InsertDay(ctx, "2024-06-02")
		assert.Equal(t, int64(2), day.ID)
		return err
	}))
}

func TestCommitLostClaimRemovesDay(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	var lostID int64
	err := store.Atomically(ctx, "2024-06-01", func(tx db.Tx) error {
		day, err := tx.InsertDay(ctx, "2024-06-01")
		if err != nil {
			return err
		}
		lostID = day.ID
		// A writer whose lock lapsed gets to the date first.
		mr.HSet(daysByDateKey, "2024-06-01", "77")
		return tx.InsertEntries(ctx, day.ID, []int64{1, 2})
	})
	require.ErrorIs(t, err, db.ErrDuplicateDay)

	assert.Equal(t, "77", mr.HGet(daysByDateKey, "2024-06-01"))
	assert.False(t, mr.Exists(getDayInfoKey(lostID)))
	assert.False(t, mr.Exists(getAttendanceKey(lostID)))
	days, err := store.ListDays(ctx)
	require.NoError(t, err)
	assert.Empty(t, days)
}

func TestSheetEntriesSkipsKidsWithoutDetails(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	var dayID int64
	require.NoError(t, store.Atomically(ctx, "2024-06-01", func(tx db.Tx) error {
		kid, err := tx.InsertKid(ctx, "Alice")
		if err != nil {
			return err
		}
		day, err := tx.InsertDay(ctx, "2024-06-01")
		if err != nil {
			return err
		}
		dayID = day.ID
		return tx.InsertEntries(ctx, day.ID, []int64{kid.ID, 40})
	}))
	require.True(t, mr.Exists(getAttendanceKey(dayID)))

	entries, err := store.SheetEntries(ctx, dayID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Alice", entries[0].Name)
}

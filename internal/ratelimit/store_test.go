package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheck(t *testing.T) {
	store := NewMemoryStore()

	ctx := context.Background()

	t.Run("allows up to the limit", func(t *testing.T) {
		for i := int64(1); i <= 5; i++ {
			result, err := Check(ctx, store, "check-limit", 5, time.Minute)
			require.NoError(t, err)
			assert.True(t, result.Allowed)
			assert.Equal(t, 5-i, result.Remaining)
		}

		result, err := Check(ctx, store, "check-limit", 5, time.Minute)
		require.NoError(t, err)
		assert.False(t, result.Allowed)
		assert.Equal(t, int64(0), result.Remaining)
		assert.Equal(t, int64(5), result.Limit)
	})

	t.Run("reset time is the window end, not now plus window", func(t *testing.T) {
		first, err := Check(ctx, store, "check-reset", 10, time.Minute)
		require.NoError(t, err)
		time.Sleep(20 * time.Millisecond)
		second, err := Check(ctx, store, "check-reset", 10, time.Minute)
		require.NoError(t, err)

		assert.Equal(t, first.ResetAt, second.ResetAt)
		assert.True(t, second.ResetAt.After(time.Now()))
	})

	t.Run("keys are independent", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			_, _ = Check(ctx, store, "bundle:user:a", 3, time.Minute)
		}
		denied, _ := Check(ctx, store, "bundle:user:a", 3, time.Minute)
		other, _ := Check(ctx, store, "bundle:guest:10.0.0.1", 3, time.Minute)
		assert.False(t, denied.Allowed)
		assert.True(t, other.Allowed)
	})
}

func TestQuotas(t *testing.T) {
	ctx := context.Background()
	q := Quotas{User: 3, Guest: 1, Window: time.Hour}

	t.Run("keys by user id when authenticated", func(t *testing.T) {
		kind, key := q.Key("u1", "10.0.0.1")
		assert.Equal(t, KindUser, kind)
		assert.Equal(t, "bundle:user:u1", key)
	})

	t.Run("keys by ip for guests", func(t *testing.T) {
		kind, key := q.Key("", "10.0.0.1")
		assert.Equal(t, KindGuest, kind)
		assert.Equal(t, "bundle:guest:10.0.0.1", key)
	})

	t.Run("user and guest quotas are separate", func(t *testing.T) {
		store := NewMemoryStore()

		guest, err := q.Check(ctx, store, "", "10.0.0.2")
		require.NoError(t, err)
		assert.True(t, guest.Allowed)
		assert.Equal(t, KindGuest, guest.Kind)

		guest, err = q.Check(ctx, store, "", "10.0.0.2")
		require.NoError(t, err)
		assert.False(t, guest.Allowed)

		for i := 0; i < 3; i++ {
			user, err := q.Check(ctx, store, "u2", "10.0.0.2")
			require.NoError(t, err)
			assert.True(t, user.Allowed)
			assert.Equal(t, int64(3), user.Limit)
			assert.Equal(t, KindUser, user.Kind)
		}
	})

	t.Run("store errors are returned", func(t *testing.T) {
		store := NewPostgresStore(&fakeQuerier{row: fakeRow{err: errors.New("down")}})
		_, err := q.Check(ctx, store, "u3", "")
		assert.Error(t, err)
	})
}

func TestResult_RetryAfter(t *testing.T) {
	t.Run("rounds up to whole seconds", func(t *testing.T) {
		r := &Result{ResetAt: time.Now().Add(1500 * time.Millisecond)}
		assert.Equal(t, 2*time.Second, r.RetryAfter())
	})

	t.Run("past reset yields one second", func(t *testing.T) {
		r := &Result{ResetAt: time.Now().Add(-time.Minute)}
		assert.Equal(t, time.Second, r.RetryAfter())
	})
}

type fakeRow struct {
	count     int64
	expiresAt time.Time
	err       error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*int64) = r.count
	*dest[1].(*time.Time) = r.expiresAt
	return nil
}

type fakeQuerier struct {
	row      fakeRow
	lastSQL  string
	lastArgs []any
	affected int64
}

func (q *fakeQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	q.lastSQL = sql
	q.lastArgs = args
	return q.row
}

func (q *fakeQuerier) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	q.lastSQL = sql
	q.lastArgs = args
	return pgconn.NewCommandTag("DELETE " + strconv.FormatInt(q.affected, 10)), nil
}

func TestPostgresStore(t *testing.T) {
	ctx := context.Background()

	t.Run("increment returns count and stored expiry", func(t *testing.T) {
		expires := time.Now().Add(time.Hour).Truncate(time.Second)
		q := &fakeQuerier{row: fakeRow{count: 3, expiresAt: expires}}
		store := NewPostgresStore(q)

		count, resetAt, err := store.Increment(ctx, "bundle:user:u1", time.Hour)
		require.NoError(t, err)
		assert.Equal(t, int64(3), count)
		assert.Equal(t, expires, resetAt)
		assert.True(t, strings.Contains(q.lastSQL, "ON CONFLICT (key)"))
		assert.Equal(t, "bundle:user:u1", q.lastArgs[0])
		assert.Equal(t, float64(3600), q.lastArgs[1])
	})

	t.Run("increment surfaces query errors", func(t *testing.T) {
		store := NewPostgresStore(&fakeQuerier{row: fakeRow{err: errors.New("connection refused")}})
		_, _, err := store.Increment(ctx, "k", time.Hour)
		assert.Error(t, err)
	})

	t.Run("cleanup reports rows affected", func(t *testing.T) {
		store := NewPostgresStore(&fakeQuerier{affected: 7})
		removed, err := store.Cleanup(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(7), removed)
	})
}

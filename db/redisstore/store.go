// Package redisstore keeps kids, days and attendance entries in Redis.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"kids-rollcall/db"
	"kids-rollcall/models"
)

const (
	kidsKey          = "kids"         // ZSet: kid IDs scored by ID (creation order)
	kidSeqKey        = "kids:seq"     // Counter for kid IDs
	kidInfoPrefix    = "kid:"         // Hash prefix: kid:{id} -> id, name
	daysKey          = "days"         // ZSet: day IDs scored by date as YYYYMMDD
	daySeqKey        = "days:seq"     // Counter for day IDs
	daysByDateKey    = "days:by-date" // Hash: date -> day ID, the uniqueness guard
	dayInfoPrefix    = "day:"         // Hash prefix: day:{id} -> id, date
	attendanceSuffix = ":attendance"  // Hash: day:{id}:attendance -> kidID -> "0"/"1"
	lockPrefix       = "lock:day:"    // String: lock:day:{date} -> owner token
)

const (
	// DefaultLockTTL bounds how long a crashed holder can block a date.
	DefaultLockTTL  = 5 * time.Second
	defaultLockPoll = 20 * time.Millisecond
)

// setPresentScript only touches fields that already exist.
var setPresentScript = redis.NewScript(`
if redis.call('HEXISTS', KEYS[1], ARGV[1]) == 1 then
  redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
  return 1
end
return 0
`)

// releaseScript deletes the lock only while it is still held by the caller.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// Store handles attendance operations against a Redis database
type Store struct {
	Client   *redis.Client
	LockTTL  time.Duration
	LockPoll time.Duration
}

// New creates a Store on an already connected client
func New(client *redis.Client, lockTTL time.Duration) *Store {
	if lockTTL <= 0 {
		lockTTL = DefaultLockTTL
	}
	return &Store{
		Client:   client,
		LockTTL:  lockTTL,
		LockPoll: defaultLockPoll,
	}
}

// Connect creates a client and pings it before handing it back
func Connect(ctx context.Context, opts *redis.Options) (*redis.Client, error) {
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("could not connect to Redis at %s: %w", opts.Addr, err)
	}
	log.Printf("Connected to Redis %s (DB %d)", opts.Addr, opts.DB)
	return rdb, nil
}

// Close closes the underlying client.
func (s *Store) Close() error {
	if s == nil || s.Client == nil {
		return nil
	}
	return s.Client.Close()
}

func getKidInfoKey(id int64) string {
	return kidInfoPrefix + strconv.FormatInt(id, 10)
}

func getDayInfoKey(id int64) string {
	return dayInfoPrefix + strconv.FormatInt(id, 10)
}

func getAttendanceKey(dayID int64) string {
	return dayInfoPrefix + strconv.FormatInt(dayID, 10) + attendanceSuffix
}

func getLockKey(key string) string {
	return lockPrefix + key
}

// dateScore turns YYYY-MM-DD into YYYYMMDD so the days ZSet sorts chronologically.
func dateScore(date string) (float64, error) {
	n, err := strconv.ParseInt(strings.ReplaceAll(date, "-", ""), 10, 64)
	if err != nil || len(date) != len("2006-01-02") {
		return 0, fmt.Errorf("date %q is not in YYYY-MM-DD form", date)
	}
	return float64(n), nil
}

// --- Units of work ---

// Atomically holds the per-key lock while fn runs. Acquisition polls until
// the lock frees up or ctx is done.
//
// Writes made through the Tx are buffered and sent as a single MULTI/EXEC
// once fn returns nil. If fn fails nothing is written. Reads inside fn see
// committed state only.
func (s *Store) Atomically(ctx context.Context, key string, fn func(db.Tx) error) error {
	lockKey := getLockKey(key)
	token := uuid.NewString()

	for {
		ok, err := s.Client.SetNX(ctx, lockKey, token, s.LockTTL).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = ctxErr
			}
			return fmt.Errorf("failed to acquire lock %s: %w", lockKey, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("failed to acquire lock %s: %w", lockKey, ctx.Err())
		case <-time.After(s.LockPoll):
		}
	}
	defer func() {
		// Release with a fresh context so a cancelled request still frees the lock.
		if err := releaseScript.Run(context.Background(), s.Client, []string{lockKey}, token).Err(); err != nil {
			log.Printf("Error releasing lock %s: %v", lockKey, err)
		}
	}()

	tx := &redisTx{s: s}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.commit(ctx)
}

// dayClaim is a pending days:by-date entry.
type dayClaim struct {
	date string
	id   int64
}

type redisTx struct {
	s      *Store
	claims []dayClaim
	writes []func(ctx context.Context, pipe redis.Pipeliner)
}

// commit flushes the buffered writes. Date claims go first in the same
// MULTI so a lost claim is seen in the EXEC reply; the loser's day keys
// use an id nobody else holds and are removed again.
func (t *redisTx) commit(ctx context.Context) error {
	if len(t.claims) == 0 && len(t.writes) == 0 {
		return nil
	}
	claimCmds := make([]*redis.BoolCmd, len(t.claims))
	_, err := t.s.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, c := range t.claims {
			claimCmds[i] = pipe.HSetNX(ctx, daysByDateKey, c.date, c.id)
		}
		for _, write := range t.writes {
			write(ctx, pipe)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to commit to Redis: %w", err)
	}

	var lost bool
	for i, c := range t.claims {
		if claimCmds[i].Val() {
			continue
		}
		lost = true
		log.Printf("Date %s was claimed concurrently, dropping day %d", c.date, c.id)
		_, err := t.s.Client.TxPipelined(context.Background(), func(pipe redis.Pipeliner) error {
			pipe.Del(context.Background(), getDayInfoKey(c.id), getAttendanceKey(c.id))
			pipe.ZRem(context.Background(), daysKey, c.id)
			return nil
		})
		if err != nil {
			log.Printf("Error removing orphaned day %d: %v", c.id, err)
		}
	}
	if lost {
		return db.ErrDuplicateDay
	}
	return nil
}

func (t *redisTx) DayByDate(ctx context.Context, date string) (models.Day, error) {
	raw, err := t.s.Client.HGet(ctx, daysByDateKey, date).Result()
	if errors.Is(err, redis.Nil) {
		return models.Day{}, db.ErrNotFound
	}
	if err != nil {
		return models.Day{}, fmt.Errorf("failed to look up day %s: %w", date, err)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return models.Day{}, fmt.Errorf("corrupt day id %q for %s: %w", raw, date, err)
	}
	return models.Day{ID: id, Date: date}, nil
}

func (t *redisTx) InsertDay(ctx context.Context, date string) (models.Day, error) {
	score, err := dateScore(date)
	if err != nil {
		return models.Day{}, err
	}
	// Check the claim before allocating so a taken date does not use up an id.
	taken, err := t.s.Client.HExists(ctx, daysByDateKey, date).Result()
	if err != nil {
		return models.Day{}, fmt.Errorf("failed to look up day %s: %w", date, err)
	}
	if taken {
		return models.Day{}, db.ErrDuplicateDay
	}
	for _, c := range t.claims {
		if c.date == date {
			return models.Day{}, db.ErrDuplicateDay
		}
	}

	id, err := t.s.Client.Incr(ctx, daySeqKey).Result()
	if err != nil {
		return models.Day{}, fmt.Errorf("failed to allocate day id: %w", err)
	}
	t.claims = append(t.claims, dayClaim{date: date, id: id})
	t.writes = append(t.writes, func(ctx context.Context, pipe redis.Pipeliner) {
		pipe.HSet(ctx, getDayInfoKey(id), map[string]interface{}{
			"id":   id,
			"date": date,
		})
		pipe.ZAdd(ctx, daysKey, &redis.Z{Score: score, Member: id})
	})
	return models.Day{ID: id, Date: date}, nil
}

func (t *redisTx) KidIDs(ctx context.Context) ([]int64, error) {
	members, err := t.s.Client.ZRange(ctx, kidsKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get kid IDs from Redis: %w", err)
	}
	return parseIDs(members)
}

func (t *redisTx) InsertKid(ctx context.Context, name string) (models.Kid, error) {
	id, err := t.s.Client.Incr(ctx, kidSeqKey).Result()
	if err != nil {
		return models.Kid{}, fmt.Errorf("failed to allocate kid id: %w", err)
	}

	t.writes = append(t.writes, func(ctx context.Context, pipe redis.Pipeliner) {
		pipe.HSet(ctx, getKidInfoKey(id), map[string]interface{}{
			"id":   id,
			"name": name,
		})
		pipe.ZAdd(ctx, kidsKey, &redis.Z{Score: float64(id), Member: id})
	})
	return models.Kid{ID: id, Name: name}, nil
}

func (t *redisTx) InsertEntries(ctx context.Context, dayID int64, kidIDs []int64) error {
	if len(kidIDs) == 0 {
		return nil
	}
	key := getAttendanceKey(dayID)
	ids := append([]int64(nil), kidIDs...)
	t.writes = append(t.writes, func(ctx context.Context, pipe redis.Pipeliner) {
		for _, kidID := range ids {
			pipe.HSetNX(ctx, key, strconv.FormatInt(kidID, 10), "0")
		}
	})
	return nil
}

// --- Reads and marks ---

// ListKids retrieves all kids in creation order
func (s *Store) ListKids(ctx context.Context) ([]models.Kid, error) {
	members, err := s.Client.ZRange(ctx, kidsKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get kid IDs from Redis: %w", err)
	}
	ids, err := parseIDs(members)
	if err != nil {
		return nil, err
	}
	names, err := s.kidNames(ctx, ids)
	if err != nil {
		return nil, err
	}

	kids := make([]models.Kid, 0, len(ids))
	for _, id := range ids {
		name, ok := names[id]
		if !ok {
			log.Printf("Kid %d is listed but has no details, skipping", id)
			continue
		}
		kids = append(kids, models.Kid{ID: id, Name: name})
	}
	return kids, nil
}

// DayByID returns db.ErrNotFound for unknown ids
func (s *Store) DayByID(ctx context.Context, id int64) (models.Day, error) {
	data, err := s.Client.HGetAll(ctx, getDayInfoKey(id)).Result()
	if err != nil {
		return models.Day{}, fmt.Errorf("failed to get day %d from Redis: %w", id, err)
	}
	if len(data) == 0 {
		return models.Day{}, db.ErrNotFound
	}
	return models.Day{ID: id, Date: data["date"]}, nil
}

// ListDays retrieves all days, most recent date first
func (s *Store) ListDays(ctx context.Context) ([]models.Day, error) {
	members, err := s.Client.ZRevRange(ctx, daysKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get day IDs from Redis: %w", err)
	}
	ids, err := parseIDs(members)
	if err != nil {
		return nil, err
	}

	pipe := s.Client.Pipeline()
	cmds := make([]*redis.StringStringMapCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, getDayInfoKey(id))
	}
	if len(ids) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("failed to get day details from Redis: %w", err)
		}
	}

	days := make([]models.Day, 0, len(ids))
	for i, id := range ids {
		data := cmds[i].Val()
		if len(data) == 0 {
			log.Printf("Day %d is listed but has no details, skipping", id)
			continue
		}
		days = append(days, models.Day{ID: id, Date: data["date"]})
	}
	return days, nil
}

// SheetEntries joins a day's attendance hash with kid names
func (s *Store) SheetEntries(ctx context.Context, dayID int64) ([]models.SheetEntry, error) {
	marks, err := s.Client.HGetAll(ctx, getAttendanceKey(dayID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get attendance for day %d: %w", dayID, err)
	}

	ids := make([]int64, 0, len(marks))
	for field := range marks {
		id, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt kid id %q on day %d: %w", field, dayID, err)
		}
		ids = append(ids, id)
	}
	names, err := s.kidNames(ctx, ids)
	if err != nil {
		return nil, err
	}

	entries := make([]models.SheetEntry, 0, len(ids))
	for _, id := range ids {
		name, ok := names[id]
		if !ok {
			log.Printf("Day %d has an entry for kid %d with no details, skipping", dayID, id)
			continue
		}
		entries = append(entries, models.SheetEntry{
			KidID:   id,
			Name:    name,
			Present: marks[strconv.FormatInt(id, 10)] == "1",
		})
	}
	return entries, nil
}

// SetPresent updates an existing entry and reports whether one matched
func (s *Store) SetPresent(ctx context.Context, dayID, kidID int64, present bool) (bool, error) {
	value := "0"
	if present {
		value = "1"
	}
	n, err := setPresentScript.Run(ctx, s.Client,
		[]string{getAttendanceKey(dayID)}, strconv.FormatInt(kidID, 10), value,
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to mark kid %d on day %d: %w", kidID, dayID, err)
	}
	return n == 1, nil
}

func (s *Store) kidNames(ctx context.Context, ids []int64) (map[int64]string, error) {
	names := make(map[int64]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}

	pipe := s.Client.Pipeline()
	cmds := make([]*redis.StringStringMapCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, getKidInfoKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to get kid details from Redis: %w", err)
	}
	for i, id := range ids {
		if data := cmds[i].Val(); len(data) > 0 {
			names[id] = data["name"]
		}
	}
	return names, nil
}

func parseIDs(members []string) ([]int64, error) {
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt id %q: %w", m, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

var _ db.Store = (*Store)(nil)

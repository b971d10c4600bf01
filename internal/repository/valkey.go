package repository

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/atinyakov/secureshare/internal/models"
	"github.com/valkey-io/valkey-go"
)

const (
	valkeyNotePrefix = "note:"
	valkeyExpiryKey  = "notes:expiry"
	valkeySweepBatch = 1000
)

var valkeyMetaFields = []string{"owner_id", "created_at", "expires_at", "max_views", "view_count", "view_once", "deleted", "deleted_at"}

// Every state change runs as one Lua script, which Valkey executes atomically.
var (
	createScript = valkey.NewLuaScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return 0 end
redis.call('HSET', KEYS[1],
  'owner_id', ARGV[2], 'ciphertext', ARGV[3], 'iv', ARGV[4],
  'created_at', ARGV[5], 'expires_at', ARGV[6], 'max_views', ARGV[7],
  'view_count', 0, 'view_once', ARGV[8], 'deleted', 0)
redis.call('ZADD', KEYS[2], ARGV[6], ARGV[1])
if tonumber(ARGV[9]) > 0 then redis.call('PEXPIREAT', KEYS[1], ARGV[9]) end
return 1
`)

	consumeScript = valkey.NewLuaScript(`
local h = redis.call('HMGET', KEYS[1], 'deleted', 'expires_at', 'view_count', 'max_views')
if not h[1] or h[1] == '1' then return {0} end
if tonumber(h[2]) <= tonumber(ARGV[1]) then return {2} end
local n = tonumber(h[3]) + 1
local max = tonumber(h[4])
local done = 0
redis.call('HSET', KEYS[1], 'view_count', n)
if n >= max then
  done = 1
  redis.call('HSET', KEYS[1], 'deleted', 1, 'deleted_at', ARGV[1])
  redis.call('ZREM', KEYS[2], ARGV[2])
  if tonumber(ARGV[3]) > 0 then redis.call('PEXPIRE', KEYS[1], ARGV[3]) end
end
local p = redis.call('HMGET', KEYS[1], 'ciphertext', 'iv', 'expires_at', 'view_once')
return {1, n, max, done, p[1], p[2], p[3], p[4]}
`)

	deleteScript = valkey.NewLuaScript(`
local d = redis.call('HGET', KEYS[1], 'deleted')
if not d or d == '1' then return 0 end
redis.call('HSET', KEYS[1], 'deleted', 1, 'deleted_at', ARGV[1])
redis.call('ZREM', KEYS[2], ARGV[2])
if tonumber(ARGV[3]) > 0 then redis.call('PEXPIRE', KEYS[1], ARGV[3]) end
return 1
`)

	sweepScript = valkey.NewLuaScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[4]))
local n = 0
for _, id in ipairs(ids) do
  local k = ARGV[3] .. id
  if redis.call('HGET', k, 'deleted') == '0' then
    redis.call('HSET', k, 'deleted', 1, 'deleted_at', ARGV[1])
    if tonumber(ARGV[2]) > 0 then redis.call('PEXPIRE', k, ARGV[2]) end
    n = n + 1
  end
  redis.call('ZREM', KEYS[1], id)
end
return n
`)
)

const (
	consumeRejected = 0
	consumeOK       = 1
	consumeExpired  = 2
)

// ValkeyNoteRepository stores each note as a hash plus an expiry index in a
// sorted set. Tombstoned hashes are given a TTL of Retention so Valkey
// removes them without a separate purge pass.
type ValkeyNoteRepository struct {
	client valkey.Client
	// Retention is how long tombstones are kept. Zero keeps them forever.
	Retention time.Duration
}

// NewValkeyClient connects to a single Valkey node. Every script touches a
// note key and the shared expiry index, which live in different cluster
// slots, so cluster routing is switched off.
func NewValkeyClient(addr string) (valkey.Client, error) {
	return valkey.NewClient(valkey.ClientOption{
		InitAddress:       []string{addr},
		ForceSingleClient: true,
	})
}

// NewValkeyNoteRepository creates a ValkeyNoteRepository on client.
func NewValkeyNoteRepository(client valkey.Client, retention time.Duration) *ValkeyNoteRepository {
	return &ValkeyNoteRepository{client: client, Retention: retention}
}

// Insert persists a new note. Re-using an id fails.
func (r *ValkeyNoteRepository) Insert(ctx context.Context, note *models.Note) error {
	var purgeAt int64
	if r.Retention > 0 {
		purgeAt = note.ExpiresAt.Add(r.Retention).UnixMilli()
	}
	ok, err := createScript.Exec(ctx, r.client,
		[]string{noteKey(note.ID), valkeyExpiryKey},
		[]string{
			note.ID,
			note.OwnerID,
			valkey.BinaryString(note.Ciphertext),
			valkey.BinaryString(note.IV),
			formatMillis(note.CreatedAt),
			formatMillis(note.ExpiresAt),
			strconv.Itoa(note.MaxViews),
			formatFlag(note.ViewOnce),
			strconv.FormatInt(purgeAt, 10),
		},
	).AsInt64()
	if err != nil {
		return fmt.Errorf("insert note: %w", classifyValkey(err))
	}
	if ok != 1 {
		return fmt.Errorf("insert note: duplicate id %q", note.ID)
	}
	return nil
}

// GetMeta loads a note's bookkeeping fields without its payload.
func (r *ValkeyNoteRepository) GetMeta(ctx context.Context, id string) (*models.Note, error) {
	msgs, err := r.client.Do(ctx, r.client.B().Hmget().Key(noteKey(id)).Field(valkeyMetaFields...).Build()).ToArray()
	if err != nil {
		return nil, fmt.Errorf("get note: %w", classifyValkey(err))
	}
	fields := make(map[string]string, len(valkeyMetaFields))
	for i, m := range msgs {
		if i >= len(valkeyMetaFields) || m.IsNil() {
			continue
		}
		v, err := m.ToString()
		if err != nil {
			return nil, fmt.Errorf("get note: field %s: %w", valkeyMetaFields[i], err)
		}
		fields[valkeyMetaFields[i]] = v
	}
	return decodeMeta(id, fields)
}

// Consume charges one view inside a single script.
func (r *ValkeyNoteRepository) Consume(ctx context.Context, id string, now time.Time) (*models.NotePayload, error) {
	msgs, err := consumeScript.Exec(ctx, r.client,
		[]string{noteKey(id), valkeyExpiryKey},
		[]string{formatMillis(now), id, strconv.FormatInt(r.Retention.Milliseconds(), 10)},
	).ToArray()
	if err != nil {
		return nil, fmt.Errorf("consume note: %w", classifyValkey(err))
	}
	if len(msgs) == 0 {
		return nil, errors.New("consume note: empty script reply")
	}
	status, err := msgs[0].AsInt64()
	if err != nil {
		return nil, fmt.Errorf("consume note: status: %w", err)
	}
	switch status {
	case consumeRejected:
		return nil, models.ErrNotFound
	case consumeExpired:
		return nil, models.ErrExpired
	case consumeOK:
	default:
		return nil, fmt.Errorf("consume note: unexpected status %d", status)
	}
	if len(msgs) != 8 {
		return nil, fmt.Errorf("consume note: unexpected reply length %d", len(msgs))
	}

	ints := make([]int64, 3)
	for i := range ints {
		if ints[i], err = msgs[i+1].AsInt64(); err != nil {
			return nil, fmt.Errorf("consume note: counter: %w", err)
		}
	}
	strs := make([]string, 4)
	for i := range strs {
		if strs[i], err = msgs[i+4].ToString(); err != nil {
			return nil, fmt.Errorf("consume note: payload: %w", err)
		}
	}
	expiresAt, err := parseMillis(strs[2])
	if err != nil {
		return nil, fmt.Errorf("consume note: expires_at: %w", err)
	}
	return &models.NotePayload{
		Ciphertext: []byte(strs[0]),
		IV:         []byte(strs[1]),
		ViewCount:  int(ints[0]),
		MaxViews:   int(ints[1]),
		Exhausted:  ints[2] == 1,
		ExpiresAt:  expiresAt,
		ViewOnce:   parseFlag(strs[3]),
	}, nil
}

// Delete tombstones a note; unknown and already deleted ids are a no-op.
func (r *ValkeyNoteRepository) Delete(ctx context.Context, id string, now time.Time) error {
	err := deleteScript.Exec(ctx, r.client,
		[]string{noteKey(id), valkeyExpiryKey},
		[]string{formatMillis(now), id, strconv.FormatInt(r.Retention.Milliseconds(), 10)},
	).Error()
	if err != nil {
		return fmt.Errorf("delete note: %w", classifyValkey(err))
	}
	return nil
}

// SweepExpired tombstones live notes whose deadline is not after now, in
// batches of at most valkeySweepBatch per script run.
func (r *ValkeyNoteRepository) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	var total int64
	for {
		before, err := r.client.Do(ctx, r.client.B().Zcount().Key(valkeyExpiryKey).Min("-inf").Max(formatMillis(now)).Build()).AsInt64()
		if err != nil {
			return total, fmt.Errorf("sweep expired notes: %w", classifyValkey(err))
		}
		if before == 0 {
			return total, nil
		}
		n, err := sweepScript.Exec(ctx, r.client,
			[]string{valkeyExpiryKey},
			[]string{
				formatMillis(now),
				strconv.FormatInt(r.Retention.Milliseconds(), 10),
				valkeyNotePrefix,
				strconv.Itoa(valkeySweepBatch),
			},
		).AsInt64()
		if err != nil {
			return total, fmt.Errorf("sweep expired notes: %w", classifyValkey(err))
		}
		total += n
		if before <= valkeySweepBatch {
			return total, nil
		}
	}
}

// Ping checks that the Valkey server answers.
func (r *ValkeyNoteRepository) Ping(ctx context.Context) error {
	return r.client.Do(ctx, r.client.B().Ping().Build()).Error()
}

func noteKey(id string) string {
	return valkeyNotePrefix + id
}

// decodeMeta turns raw hash fields into a Note. Flags are normalized to
// bool here and nowhere else.
func decodeMeta(id string, fields map[string]string) (*models.Note, error) {
	if len(fields) == 0 {
		return nil, models.ErrNotFound
	}
	note := &models.Note{
		ID:       id,
		OwnerID:  fields["owner_id"],
		ViewOnce: parseFlag(fields["view_once"]),
		Deleted:  parseFlag(fields["deleted"]),
	}
	var err error
	if note.CreatedAt, err = parseMillis(fields["created_at"]); err != nil {
		return nil, fmt.Errorf("decode note %s: created_at: %w", id, err)
	}
	if note.ExpiresAt, err = parseMillis(fields["expires_at"]); err != nil {
		return nil, fmt.Errorf("decode note %s: expires_at: %w", id, err)
	}
	if note.MaxViews, err = strconv.Atoi(fields["max_views"]); err != nil {
		return nil, fmt.Errorf("decode note %s: max_views: %w", id, err)
	}
	if note.ViewCount, err = strconv.Atoi(fields["view_count"]); err != nil {
		return nil, fmt.Errorf("decode note %s: view_count: %w", id, err)
	}
	if v, ok := fields["deleted_at"]; ok && v != "" {
		t, err := parseMillis(v)
		if err != nil {
			return nil, fmt.Errorf("decode note %s: deleted_at: %w", id, err)
		}
		note.DeletedAt = &t
	}
	return note, nil
}

// parseFlag accepts the representations a stored flag has been seen in.
func parseFlag(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "t", "true", "y", "yes", "\x01":
		return true
	default:
		return false
	}
}

func formatFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func formatMillis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func parseMillis(v string) (time.Time, error) {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}

// classifyValkey marks failures where the command is known not to have run.
func classifyValkey(err error) error {
	if verr, ok := valkey.IsValkeyErr(err); ok {
		msg := verr.Error()
		for _, prefix := range []string{"BUSY", "LOADING", "TRYAGAIN", "MASTERDOWN", "CLUSTERDOWN"} {
			if strings.HasPrefix(msg, prefix) {
				return fmt.Errorf("%w: %w", models.ErrTransient, err)
			}
		}
		return err
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return fmt.Errorf("%w: %w", models.ErrTransient, err)
	}
	return err
}

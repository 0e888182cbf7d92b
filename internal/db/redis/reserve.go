package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/rueidis"

	"github.com/mataresit/embedpipe/internal/db"
)

// reserveScript implements check-and-increment as a single server-side
// operation. Two concurrent callers can never both be granted the last unit
// of a window: the check and the INCRBY execute atomically.
//
// KEYS[1] window counter key
// ARGV[1] limit, ARGV[2] amount, ARGV[3] ttl seconds for a fresh key
// Returns {granted(0|1), used-after-call}.
var reserveScript = rueidis.NewLuaScript(`
local used = tonumber(redis.call('GET', KEYS[1]) or '0')
local limit = tonumber(ARGV[1])
local amount = tonumber(ARGV[2])
if used + amount > limit then
  return {0, used}
end
used = redis.call('INCRBY', KEYS[1], amount)
redis.call('EXPIRE', KEYS[1], ARGV[3], 'NX')
return {1, used}
`)

// ReserveCounter atomically increments key by amount unless the result would
// exceed limit. Returns the used total after the call and whether the
// increment was applied.
func (s *Store) ReserveCounter(
	ctx context.Context, key string, limit, amount int64, ttl time.Duration,
) (int64, bool, error) {
	resp := reserveScript.Exec(ctx, s.client,
		[]string{key},
		[]string{
			strconv.FormatInt(limit, 10),
			strconv.FormatInt(amount, 10),
			strconv.FormatInt(int64(ttl.Seconds()), 10),
		},
	)

	arr, err := resp.ToArray()
	if err != nil {
		return 0, false, &db.Error{Op: db.OpEval, Err: err}
	}
	if len(arr) != 2 {
		return 0, false, &db.Error{Op: db.OpEval, Err: errUnexpectedReply(len(arr))}
	}

	granted, err := arr[0].AsInt64()
	if err != nil {
		return 0, false, &db.Error{Op: db.OpEval, Err: err}
	}
	used, err := arr[1].AsInt64()
	if err != nil {
		return 0, false, &db.Error{Op: db.OpEval, Err: err}
	}

	return used, granted == 1, nil
}

type errUnexpectedReply int

func (e errUnexpectedReply) Error() string {
	return "reserve script: unexpected reply length " + strconv.Itoa(int(e))
}

package limiter

import (
	_ "embed"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/manenim/gateway-guard/pkg/keystore"
)

// epsilon absorbs float rounding in refill arithmetic so a bucket that has
// refilled to 0.9999999999 tokens still admits a 1-token request.
const epsilon = 1e-9

//go:embed token_bucket.lua
var tokenBucketLua string

//go:embed sliding_window.lua
var slidingWindowLua string

var (
	tokenBucketScript   = keystore.NewScript("token_bucket", tokenBucketLua, tokenBucketLocal)
	slidingWindowScript = keystore.NewScript("sliding_window", slidingWindowLua, slidingWindowLocal)
)

type bucketState struct {
	tokens     float64
	lastRefill float64
}

// take refills st up to now and consumes permits when enough tokens are
// available. Times are in microseconds; on denial it returns the wait until
// permits would be available.
func (st *bucketState) take(capacity, rate, interval, now, permits float64) (allowed bool, retry float64) {
	if now > st.lastRefill {
		st.tokens = math.Min(capacity, st.tokens+(now-st.lastRefill)*rate/interval)
		st.lastRefill = now
	}
	if st.tokens+epsilon >= permits {
		st.tokens = math.Max(0, st.tokens-permits)
		return true, 0
	}
	return false, (permits - st.tokens) * interval / rate
}

func tokenBucketLocal(tx keystore.Tx, keys []string, args []any) (any, error) {
	p, err := floatArgs(args, 6)
	if err != nil {
		return nil, err
	}
	capacity, rate, interval, now, permits, ttl := p[0], p[1], p[2], p[3], p[4], p[5]
	key := keys[0]

	st := bucketState{tokens: capacity, lastRefill: now}
	tv, okTokens := tx.HGet(key, "tokens")
	lv, okLast := tx.HGet(key, "last_refill")
	if okTokens && okLast {
		tokens, errT := strconv.ParseFloat(tv, 64)
		last, errL := strconv.ParseFloat(lv, 64)
		if errT == nil && errL == nil {
			st = bucketState{tokens: tokens, lastRefill: last}
		}
	}

	allowed, retry := st.take(capacity, rate, interval, now, permits)
	tx.HSet(key, map[string]string{
		"tokens":      keystore.FormatFloat(st.tokens),
		"last_refill": keystore.FormatFloat(st.lastRefill),
	})
	tx.PExpire(key, time.Duration(ttl)*time.Millisecond)

	flag := int64(0)
	if allowed {
		flag = 1
	}
	return []any{flag, keystore.FormatFloat(st.tokens), keystore.FormatFloat(retry)}, nil
}

func slidingWindowLocal(tx keystore.Tx, keys []string, args []any) (any, error) {
	if len(args) != 7 {
		return nil, fmt.Errorf("sliding_window: expected 7 args, got %d", len(args))
	}
	p, err := floatArgs(args[:5], 5)
	if err != nil {
		return nil, err
	}
	window, maxReq, now, cutoff := p[0], int64(p[1]), p[2], p[3]
	permits := int64(p[4])
	member, ok := args[5].(string)
	if !ok {
		return nil, fmt.Errorf("sliding_window: member prefix must be a string, got %T", args[5])
	}
	ttl, err := keystore.ToInt64(args[6])
	if err != nil {
		return nil, err
	}
	key := keys[0]

	tx.ZRemRangeByScore(key, cutoff)
	count := tx.ZCard(key)
	if count+permits <= maxReq {
		for i := int64(1); i <= permits; i++ {
			tx.ZAdd(key, now, member+":"+strconv.FormatInt(i, 10))
		}
		tx.PExpire(key, time.Duration(ttl)*time.Millisecond)
		return []any{int64(1), maxReq - count - permits, "0"}, nil
	}

	retry := 0.0
	if score, ok := tx.ZScoreAt(key, count+permits-maxReq-1); ok {
		retry = score + window - now
	}
	return []any{int64(0), maxReq - count, keystore.FormatFloat(retry)}, nil
}

func floatArgs(args []any, n int) ([]float64, error) {
	if len(args) != n {
		return nil, fmt.Errorf("expected %d args, got %d", n, len(args))
	}
	out := make([]float64, n)
	for i, a := range args {
		f, err := keystore.ToFloat(a)
		if err != nil {
			return nil, fmt.Errorf("arg %d: %w", i+1, err)
		}
		out[i] = f
	}
	return out, nil
}

func replyValues(res any, n int) ([]any, error) {
	values, ok := res.([]any)
	if !ok || len(values) != n {
		return nil, fmt.Errorf("invalid script reply: %v", res)
	}
	return values, nil
}

func microsDuration(us float64) time.Duration {
	if us <= 0 {
		return 0
	}
	return time.Duration(math.Ceil(us * float64(time.Microsecond)))
}

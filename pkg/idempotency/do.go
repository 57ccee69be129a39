package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
)

// Do is RunOnce for typed results. The value is JSON-encoded into the record
// and decoded again on replay. replayed reports whether v came from the cache.
func Do[T any](ctx context.Context, g *Guard, call Call, work func(ctx context.Context) (T, error)) (v T, replayed bool, err error) {
	res, err := g.RunOnce(ctx, call, func(ctx context.Context) ([]byte, error) {
		out, err := work(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(out)
	})
	if err != nil {
		return v, res.Replayed, err
	}
	if len(res.Payload) == 0 {
		return v, res.Replayed, nil
	}
	if err := json.Unmarshal(res.Payload, &v); err != nil {
		return v, res.Replayed, fmt.Errorf("%w: decode result: %w", ErrCorruptRecord, err)
	}
	return v, res.Replayed, nil
}

package api

import (
	"encoding/json"
	"time"

	"github.com/jobs/runengine/internal/domain/errs"
	"github.com/jobs/runengine/internal/pkg/idx"
	"github.com/spf13/cast"
)

func parseRunID(s string) (uint64, error) {
	id, ok := idx.ParseFriendly("run", s)
	if !ok {
		return 0, errs.NewValidationError("invalid run id %q", s)
	}
	return id, nil
}

func parseOptionalRunID(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	return parseRunID(s)
}

func parseWaitpointID(s string) (uint64, error) {
	id, ok := idx.ParseFriendly("waitpoint", s)
	if !ok {
		return 0, errs.NewValidationError("invalid waitpoint id %q", s)
	}
	return id, nil
}

func parseSnapshotID(s string) (uint64, error) {
	id, err := cast.ToUint64E(s)
	if err != nil || id == 0 {
		return 0, errs.NewValidationError("invalid snapshot id %q", s)
	}
	return id, nil
}

// parseTimeOrDuration 接受 RFC3339 时间、时长字符串或毫秒数，返回相对 now 的时间点
func parseTimeOrDuration(v any, now time.Time) (*time.Time, error) {
	var d time.Duration
	switch x := v.(type) {
	case nil:
		return nil, nil
	case string:
		if x == "" {
			return nil, nil
		}
		if t, err := time.Parse(time.RFC3339, x); err == nil {
			t = t.UTC()
			return &t, nil
		}
		parsed, err := cast.ToDurationE(x)
		if err != nil {
			return nil, errs.NewValidationError("invalid time or duration %q", x)
		}
		d = parsed
	case float64:
		d = time.Duration(x) * time.Millisecond
	case json.Number:
		ms, err := cast.ToInt64E(x.String())
		if err != nil {
			return nil, errs.NewValidationError("invalid duration %v", x)
		}
		d = time.Duration(ms) * time.Millisecond
	default:
		return nil, errs.NewValidationError("invalid time or duration %v", v)
	}
	if d < 0 {
		return nil, errs.NewValidationError("duration must not be negative")
	}
	t := now.Add(d).UTC()
	return &t, nil
}

package mapping

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hyperengineering/trestle/internal/types"
)

// dateLayout is the calendar-day form used by the frontend and local store.
const dateLayout = "2006-01-02"

// FloorToNumber converts a digit-suffixed floor label ("12F") to its plain
// integer value for the external system.
func FloorToNumber(v any) (any, bool) {
	s, ok := v.(string)
	if !ok || !strings.HasSuffix(s, "F") {
		return nil, false
	}
	n, err := strconv.Atoi(strings.TrimSuffix(s, "F"))
	if err != nil {
		return nil, false
	}
	return n, true
}

// FloorFromNumber converts a plain integer floor back to its label form.
func FloorFromNumber(v any) (any, bool) {
	n, ok := asInt(v)
	if !ok {
		return nil, false
	}
	return fmt.Sprintf("%dF", n), true
}

// DateToEpoch converts a calendar date string to external epoch milliseconds
// at midnight UTC.
func DateToEpoch(v any) (any, bool) {
	s, ok := v.(string)
	if !ok {
		return nil, false
	}
	t, err := time.ParseInLocation(dateLayout, s, time.UTC)
	if err != nil {
		return nil, false
	}
	return t.UnixMilli(), true
}

// DateFromEpoch converts external epoch milliseconds to a calendar date
// string. The conversion truncates to the calendar day, so it is documented
// lossy in the external→local direction.
func DateFromEpoch(v any) (any, bool) {
	ms, ok := asInt64(v)
	if !ok {
		return nil, false
	}
	return time.UnixMilli(ms).UTC().Format(dateLayout), true
}

// TimestampToEpoch converts an RFC 3339 timestamp string to external epoch
// milliseconds.
func TimestampToEpoch(v any) (any, bool) {
	s, ok := v.(string)
	if !ok {
		return nil, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, false
	}
	return t.UnixMilli(), true
}

// TimestampFromEpoch converts external epoch milliseconds to an RFC 3339
// timestamp string in UTC.
func TimestampFromEpoch(v any) (any, bool) {
	ms, ok := asInt64(v)
	if !ok {
		return nil, false
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339), true
}

// NormalizeFileList converts any accepted file-list form (a JSON string, a
// decoded []any, or a []FileDescriptor) into the canonical JSON array stored
// in the local column. The list is ordered and written whole; a normalized
// value always fully replaces the prior list.
func NormalizeFileList(v any) (any, bool) {
	descs, ok := decodeFileList(v)
	if !ok {
		return nil, false
	}
	data, err := json.Marshal(descs)
	if err != nil {
		return nil, false
	}
	return string(data), true
}

// ExpandFileList converts the canonical JSON array (or an already decoded
// list) into []FileDescriptor for the external representation.
func ExpandFileList(v any) (any, bool) {
	descs, ok := decodeFileList(v)
	if !ok {
		return nil, false
	}
	return descs, true
}

func decodeFileList(v any) ([]types.FileDescriptor, bool) {
	switch list := v.(type) {
	case []types.FileDescriptor:
		return list, true
	case string:
		var descs []types.FileDescriptor
		if err := json.Unmarshal([]byte(list), &descs); err != nil {
			return nil, false
		}
		if descs == nil {
			descs = []types.FileDescriptor{}
		}
		return descs, true
	case []any:
		// Round-trip through JSON to coerce map entries into descriptors.
		data, err := json.Marshal(list)
		if err != nil {
			return nil, false
		}
		var descs []types.FileDescriptor
		if err := json.Unmarshal(data, &descs); err != nil {
			return nil, false
		}
		return descs, true
	}
	return nil, false
}

// asInt accepts the integer shapes JSON decoding and Go callers produce.
func asInt(v any) (int, bool) {
	n, ok := asInt64(v)
	if !ok {
		return 0, false
	}
	return int(n), true
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n != float64(int64(n)) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return i, true
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, false
		}
		return i, true
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

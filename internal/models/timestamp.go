package models

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Timestamp is a point in time that is written as a native store timestamp
// and read back from either a native timestamp or a numeric count of
// seconds since the Unix epoch.
type Timestamp struct {
	time.Time
}

// NewTimestamp truncates t to the millisecond precision stores keep.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.UTC().Truncate(time.Millisecond)}
}

// Now returns the current time as a Timestamp.
func Now() Timestamp {
	return NewTimestamp(time.Now())
}

// FromUnixSeconds converts fractional epoch seconds into a Timestamp.
func FromUnixSeconds(secs float64) Timestamp {
	whole, frac := math.Modf(secs)
	return NewTimestamp(time.Unix(int64(whole), int64(math.Round(frac*1e9))))
}

// MarshalBSONValue stores the timestamp as a BSON datetime.
func (t Timestamp) MarshalBSONValue() (bsontype.Type, []byte, error) {
	if t.IsZero() {
		return bson.TypeNull, nil, nil
	}
	return bson.MarshalValue(primitive.NewDateTimeFromTime(t.Time))
}

// UnmarshalBSONValue accepts datetimes, BSON timestamps and numeric epoch seconds.
func (t *Timestamp) UnmarshalBSONValue(typ bsontype.Type, data []byte) error {
	rv := bson.RawValue{Type: typ, Value: data}
	switch typ {
	case bson.TypeDateTime:
		*t = NewTimestamp(time.UnixMilli(rv.DateTime()))
	case bson.TypeDouble:
		*t = FromUnixSeconds(rv.Double())
	case bson.TypeInt32:
		*t = NewTimestamp(time.Unix(int64(rv.Int32()), 0))
	case bson.TypeInt64:
		*t = NewTimestamp(time.Unix(rv.Int64(), 0))
	case bson.TypeTimestamp:
		secs, _ := rv.Timestamp()
		*t = NewTimestamp(time.Unix(int64(secs), 0))
	case bson.TypeNull, bson.TypeUndefined:
		*t = Timestamp{}
	default:
		return fmt.Errorf("cannot decode %s into timestamp", typ)
	}
	return nil
}

// MarshalJSON renders RFC 3339, or null for the zero time.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time.Format(time.RFC3339Nano))
}

// UnmarshalJSON accepts RFC 3339 strings, epoch seconds and null.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case nil:
		*t = Timestamp{}
	case float64:
		*t = FromUnixSeconds(v)
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return fmt.Errorf("invalid timestamp %q: %w", v, err)
		}
		*t = NewTimestamp(parsed)
	default:
		return fmt.Errorf("invalid timestamp %s", string(data))
	}
	return nil
}

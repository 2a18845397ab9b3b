package archive

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"
)

// ErrMalformedPayload marks a detail or discovery payload whose shape is unusable.
var ErrMalformedPayload = errors.New("malformed payload")

// FetchKind enumerates the only outcomes a Gateway may report.
type FetchKind int

// Fetch outcomes.
const (
	FetchTransient FetchKind = iota
	FetchSuccess
	FetchNotFound
)

// String returns the lowercase outcome label used in logs and metrics.
func (k FetchKind) String() string {
	switch k {
	case FetchSuccess:
		return "success"
	case FetchNotFound:
		return "not_found"
	default:
		return "transient"
	}
}

// FetchResult is the tagged union returned by a Gateway. Payload is set only
// for FetchSuccess and Reason only for FetchTransient.
type FetchResult struct {
	Kind    FetchKind
	Payload json.RawMessage
	Reason  string
}

// Success wraps a parsed, non-empty payload.
func Success(payload json.RawMessage) FetchResult {
	return FetchResult{Kind: FetchSuccess, Payload: payload}
}

// NotFound reports the authoritative "gone" signal.
func NotFound() FetchResult {
	return FetchResult{Kind: FetchNotFound}
}

// Transient reports a failure that should be retried on the next eligible poll.
func Transient(reason string) FetchResult {
	return FetchResult{Kind: FetchTransient, Reason: reason}
}

// Record is one raw post record exactly as the upstream sent it. Numbers are
// kept as json.Number so re-serialization is lossless.
type Record map[string]any

// Int returns the integer value stored under key.
func (r Record) Int(key string) (int64, bool) {
	switch v := r[key].(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n, true
		}
		f, err := v.Float64()
		if err != nil || f != math.Trunc(f) {
			return 0, false
		}
		return int64(f), true
	case float64:
		if v != math.Trunc(v) {
			return 0, false
		}
		return int64(v), true
	case int:
		return int64(v), true
	case int64:
		return v, true
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// IntOr returns the integer under key or def when absent or not numeric.
func (r Record) IntOr(key string, def int64) int64 {
	if n, ok := r.Int(key); ok {
		return n
	}
	return def
}

// String returns the string under key, or "" when absent or of another type.
func (r Record) String(key string) string {
	s, _ := r[key].(string)
	return s
}

// Flag reports whether key carries the numeric marker 1 (or boolean true).
func (r Record) Flag(key string) bool {
	if b, ok := r[key].(bool); ok {
		return b
	}
	n, ok := r.Int(key)
	return ok && n == 1
}

// ThreadDoc is the persisted form of a closed thread.
type ThreadDoc struct {
	Board string  `json:"board"`
	No    int64   `json:"no"`
	Posts []int64 `json:"posts"`
}

// PostDoc is the persisted form of one post of a closed thread.
type PostDoc struct {
	Board  string  `json:"board"`
	No     int64   `json:"no"`
	Thread int64   `json:"thread"`
	Closed bool    `json:"closed"`
	Text   string  `json:"text"`
	Quotes []int64 `json:"quotes"`
	Info   Record  `json:"info"`
}

// ArchivedEvent is published once a thread has been persisted.
type ArchivedEvent struct {
	Board      string `json:"board"`
	Thread     int64  `json:"thread"`
	Posts      int    `json:"posts"`
	ArchivedAt string `json:"archived_at"`
}

package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/dshills/movreport/internal/llm"
)

// Model replies drift between types for the same field (a site number as
// 812409 or "812409", a count as "12", a flag as "Yes"). The loose types
// below accept those variants so one odd field does not fail a whole slice.

// looseString accepts a JSON string, number, bool or null.
type looseString string

func (s *looseString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	if b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = looseString(v)
		return nil
	}
	*s = looseString(string(b))
	return nil
}

// looseInt accepts a JSON number, numeric string or null. Unparsable
// strings decode to zero.
type looseInt int

func (n *looseInt) UnmarshalJSON(b []byte) error {
	var s looseString
	if err := s.UnmarshalJSON(b); err != nil {
		return err
	}
	str := strings.TrimSpace(string(s))
	if str == "" {
		*n = 0
		return nil
	}
	if f, err := strconv.ParseFloat(str, 64); err == nil {
		*n = looseInt(math.Round(f))
		return nil
	}
	*n = 0
	return nil
}

// looseBool accepts true/false, "true"/"false", "yes"/"no" and null.
type looseBool bool

func (v *looseBool) UnmarshalJSON(b []byte) error {
	var s looseString
	if err := s.UnmarshalJSON(b); err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(string(s))) {
	case "true", "yes", "y", "1":
		*v = true
	default:
		*v = false
	}
	return nil
}

// looseFloat accepts a number, numeric string or null. Set records whether
// any value was present.
type looseFloat struct {
	Value float64
	Set   bool
}

func (f *looseFloat) UnmarshalJSON(b []byte) error {
	var s looseString
	if err := s.UnmarshalJSON(b); err != nil {
		return err
	}
	str := strings.TrimSpace(string(s))
	if str == "" {
		*f = looseFloat{}
		return nil
	}
	v, err := strconv.ParseFloat(str, 64)
	if err != nil {
		*f = looseFloat{}
		return nil
	}
	*f = looseFloat{Value: v, Set: true}
	return nil
}

// sentinels are placeholder values models emit for "not found".
var sentinels = map[string]bool{
	"":              true,
	"unknown":       true,
	"null":          true,
	"none":          true,
	"n/a":           true,
	"na":            true,
	"not available": true,
	"not found":     true,
	"not reported":  true,
	"-":             true,
}

// clean trims s and maps sentinel placeholders to the empty string.
func clean(s looseString) string {
	v := strings.TrimSpace(string(s))
	if sentinels[strings.ToLower(v)] {
		return ""
	}
	return v
}

// decodeList finds a JSON array in raw, either bare or under key in an
// enclosing object. An object without the key, or with key set to null, is
// a reply of the wrong shape and yields an llm.ValidationError.
func decodeList(raw json.RawMessage, key string, dst any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		return json.Unmarshal(raw, dst)
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return err
	}
	list, ok := obj[key]
	if !ok || bytes.Equal(bytes.TrimSpace(list), []byte("null")) {
		return llm.ValidationError{Field: key, Message: fmt.Sprintf("reply has no %q list", key)}
	}
	return json.Unmarshal(list, dst)
}

package kv

import (
	"fmt"
	"strconv"
	"strings"
)

// Segment separators. 0x00 separates tuple segments; a literal 0x00 or
// 0x01 byte inside a segment is escaped so a prefix of N segments never
// accidentally matches a key with more segments that merely starts with
// the same bytes.
const (
	sepByte    = 0x00
	escapeByte = 0x01
)

func escapeSegment(s string) string {
	if !strings.ContainsAny(s, "\x00\x01") {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case sepByte:
			b.WriteByte(escapeByte)
			b.WriteByte(0x02)
		case escapeByte:
			b.WriteByte(escapeByte)
			b.WriteByte(0x01)
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// segment renders a typed tuple component as its sortable string form.
// int64 values are zero-padded decimal so lexicographic order matches
// numeric order for the non-negative tick values this store deals in
// (spec.md timestamps and schema versions are always >= 0).
func segment(part interface{}) string {
	switch v := part.(type) {
	case string:
		return escapeSegment(v)
	case int:
		return fmt.Sprintf("%020d", v)
	case int64:
		return fmt.Sprintf("%020d", v)
	case bool:
		if v {
			return "1"
		}
		return "0"
	case fmt.Stringer:
		return escapeSegment(v.String())
	default:
		return escapeSegment(fmt.Sprintf("%v", v))
	}
}

// Tuple builds an ordered Key from typed parts, joined by an
// unescaped 0x00 separator so Key.HasPrefix composes: Tuple(a,b) is a
// prefix of Tuple(a,b,c) for any c, but never a prefix of Tuple(a,bx)
// for a longer segment bx that happens to start with b's bytes.
func Tuple(parts ...interface{}) Key {
	segs := make([]string, len(parts))
	for i, p := range parts {
		segs[i] = segment(p)
	}
	return Key(strings.Join(segs, "\x00") + "\x00")
}

// ParseTupleInt64 reverses a zero-padded int64 segment produced by
// Tuple; used by callers that need to recover a tick from a scanned key.
func ParseTupleInt64(seg string) (int64, error) {
	return strconv.ParseInt(seg, 10, 64)
}

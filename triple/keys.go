package triple

import (
	"strings"

	"github.com/itoxiq/triplit/kv"
)

// splitKey reverses kv.Tuple's encoding: split on the (unescaped)
// segment separator and undo each segment's escaping, dropping the
// trailing empty segment Tuple always appends.
func splitKey(key kv.Key) []string {
	raw := strings.Split(string(key), "\x00")
	if len(raw) > 0 && raw[len(raw)-1] == "" {
		raw = raw[:len(raw)-1]
	}
	segs := make([]string, len(raw))
	for i, s := range raw {
		segs[i] = unescapeSegment(s)
	}
	return segs
}

func unescapeSegment(s string) string {
	if !strings.ContainsRune(s, 0x01) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == 0x01 && i+1 < len(s) {
			switch s[i+1] {
			case 0x02:
				b.WriteByte(0x00)
			case 0x01:
				b.WriteByte(0x01)
			}
			i++
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// splitPathKey splits a Path.String() joined form at every '.'; a
// segment that itself contains '.' (a fractional number or a string
// such as "a.b" used as a set member) comes back as several segments.
func splitPathKey(joined string) []string {
	return strings.Split(joined, ".")
}

// trailingTickClientID extracts the last two segments of an EAV/AEV key
// (tick, clientId), the suffix every index key carries.
func trailingTickClientID(key kv.Key) (int64, string, bool) {
	segs := splitKey(key)
	if len(segs) < 2 {
		return 0, "", false
	}
	tick, err := kv.ParseTupleInt64(segs[len(segs)-2])
	if err != nil {
		return 0, "", false
	}
	return tick, segs[len(segs)-1], true
}

// pathFromEAVKey recovers the attribute Path from a full EAV index key
// known to belong to entityID: eav, E, path..., tick, clientId.
func pathFromEAVKey(key kv.Key, entityID string) (Path, bool) {
	segs := splitKey(key)
	if len(segs) < 5 || segs[0] != indexEAV || segs[1] != entityID {
		return nil, false
	}
	return Path(segs[2 : len(segs)-2]), true
}

// entityFromAEVKey recovers the entity id from a full AEV index key
// known to belong to collection+path: aev, collection, path..., E, tick, clientId.
func entityFromAEVKey(key kv.Key, collection string, path Path) (EntityID, bool) {
	segs := splitKey(key)
	want := 2 + len(path)
	if len(segs) < want+3 || segs[0] != indexAEV || segs[1] != collection {
		return "", false
	}
	for i, seg := range path {
		if segs[2+i] != seg {
			return "", false
		}
	}
	return EntityID(segs[want]), true
}

package eventsourced

import (
	"log/slog"
	"strconv"
)

// InstrumentationVersion is reported by the otel decorators.
const InstrumentationVersion = "0.4.0"

// Version is the highest sequence number known for a stream.
//
// A stream that has never been persisted has no version at all, which is
// expressed by NoVersion rather than by zero: zero is the version of a stream
// holding exactly one event.
type Version int64

// NoVersion marks a stream without any persisted or recorded events.
const NoVersion Version = -1

// VersionOf returns the version reached once the event with the given
// sequence number has been written.
func VersionOf(sequence uint64) Version { return Version(sequence) }

// ExpectedVersionFor returns the version a store must be at before the
// message with the given sequence number can be appended.
func ExpectedVersionFor(sequence uint64) Version {
	if sequence == 0 {
		return NoVersion
	}
	return Version(sequence - 1)
}

// IsNone reports whether v is NoVersion.
func (v Version) IsNone() bool { return v < 0 }

// Next returns the sequence number that follows v.
func (v Version) Next() uint64 {
	if v.IsNone() {
		return 0
	}
	return uint64(v) + 1
}

func (v Version) String() string {
	if v.IsNone() {
		return "none"
	}
	return strconv.FormatInt(int64(v), 10)
}

func (v Version) SlogAttr() slog.Attr                  { return v.SlogAttrWithKey("version") }
func (v Version) SlogAttrWithKey(key string) slog.Attr { return slog.String(key, v.String()) }

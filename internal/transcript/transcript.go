// Package transcript records every transcript fragment received on the relay.
//
// A [Sink] receives one [Entry] per fragment. [FileSink] appends
// "[<timestamp>] <text>" lines to a local text file, [PostgresSink] inserts
// rows into a transcript_entries table, and [MultiSink] fans out to several
// sinks at once.
package transcript

import (
	"context"
	"errors"
	"strings"
	"time"
)

// TimestampLayout formats entry timestamps: local time, second precision.
const TimestampLayout = "2006-01-02 15:04:05"

// DefaultPath is the transcript log file used when none is configured.
const DefaultPath = "transcriptions.txt"

// FormatTimestamp renders t in the local time zone using [TimestampLayout].
func FormatTimestamp(t time.Time) string {
	return t.Local().Format(TimestampLayout)
}

// Entry is one received transcript fragment.
type Entry struct {
	// SessionID tags the interview the fragment belongs to. May be empty.
	SessionID string

	// ConnectionID identifies the relay connection that delivered it.
	ConnectionID string

	// Text is the transcript exactly as received.
	Text string

	// Timestamp is the receive time.
	Timestamp time.Time
}

// lineEscaper keeps a fragment on one log line.
var lineEscaper = strings.NewReplacer("\\", `\\`, "\r", `\r`, "\n", `\n`)

// Line renders e as a single log line without the trailing newline. Line
// breaks inside the text are written as the escapes \r and \n, and
// backslashes are doubled, so every entry occupies exactly one line.
func (e Entry) Line() string {
	return "[" + FormatTimestamp(e.Timestamp) + "] " + lineEscaper.Replace(e.Text)
}

// Sink persists transcript entries. Implementations must be safe for
// concurrent use and must never interleave two entries.
type Sink interface {
	Append(ctx context.Context, e Entry) error
	Close() error
}

// Checker is implemented by sinks that can report whether they are able to
// accept entries right now.
type Checker interface {
	Check(ctx context.Context) error
}

// MultiSink appends every entry to all of its sinks, in order. One failing
// sink does not keep the entry from the others; the failures are joined.
type MultiSink []Sink

var (
	_ Sink    = MultiSink(nil)
	_ Checker = MultiSink(nil)
)

// Append implements [Sink].
func (m MultiSink) Append(ctx context.Context, e Entry) error {
	var errs []error
	for _, s := range m {
		if err := s.Append(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close implements [Sink]. Every sink is closed even if some fail.
func (m MultiSink) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Check implements [Checker] by checking every member that supports it.
func (m MultiSink) Check(ctx context.Context) error {
	var errs []error
	for _, s := range m {
		if c, ok := s.(Checker); ok {
			if err := c.Check(ctx); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

package transcript

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"
)

func openTemp(t *testing.T) *FileSink {
	t.Helper()
	s, err := OpenFile(filepath.Join(t.TempDir(), "logs", "transcriptions.txt"))
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	text := strings.TrimSuffix(string(data), "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

func TestFormatTimestamp(t *testing.T) {
	ts := time.Date(2026, 3, 7, 9, 5, 1, 999, time.Local)
	if got := FormatTimestamp(ts); got != "2026-03-07 09:05:01" {
		t.Errorf("FormatTimestamp = %q", got)
	}
}

func TestEntryLine(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.Local)
	tests := []struct {
		name string
		text string
		want string
	}{
		{name: "plain", text: "hello world", want: `[2026-01-02 03:04:05] hello world`},
		{name: "newline", text: "a\nb", want: `[2026-01-02 03:04:05] a\nb`},
		{name: "crlf", text: "a\r\nb", want: `[2026-01-02 03:04:05] a\r\nb`},
		{name: "backslash", text: `C:\tmp\n`, want: `[2026-01-02 03:04:05] C:\\tmp\\n`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := (Entry{Text: tt.text, Timestamp: ts}).Line(); got != tt.want {
				t.Errorf("Line = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFileSink_MultilineFragmentStaysOnOneLine(t *testing.T) {
	s := openTemp(t)
	ts := time.Date(2026, 10, 19, 20, 1, 56, 0, time.Local)

	if err := s.Append(context.Background(), Entry{Text: "a\nb", Timestamp: ts}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Append(context.Background(), Entry{Text: "c", Timestamp: ts}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	lines := readLines(t, s.Path())
	want := []string{`[2026-10-19 20:01:56] a\nb`, `[2026-10-19 20:01:56] c`}
	if len(lines) != len(want) {
		t.Fatalf("lines = %q, want %q", lines, want)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestFileSink_AppendsLines(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	ts := time.Date(2026, 10, 19, 14, 30, 0, 0, time.Local)

	for _, text := range []string{"first fragment", "second fragment"} {
		if err := s.Append(ctx, Entry{Text: text, Timestamp: ts}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	lines := readLines(t, s.Path())
	want := []string{
		"[2026-10-19 14:30:00] first fragment",
		"[2026-10-19 14:30:00] second fragment",
	}
	if len(lines) != len(want) {
		t.Fatalf("lines = %q, want %q", lines, want)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestFileSink_AppendsToExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transcriptions.txt")
	if err := os.WriteFile(path, []byte("[2020-01-01 00:00:00] earlier\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if err := s.Append(context.Background(), Entry{Text: "later", Timestamp: time.Now()}); err != nil {
		t.Fatal(err)
	}
	lines := readLines(t, path)
	if len(lines) != 2 || lines[0] != "[2020-01-01 00:00:00] earlier" {
		t.Errorf("existing content not preserved: %q", lines)
	}
}

func TestFileSink_ConcurrentLinesNeverInterleave(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	const writers, perWriter = 8, 50
	payload := strings.Repeat("x", 512)

	var wg sync.WaitGroup
	for w := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perWriter {
				text := fmt.Sprintf("w%d-%d %s", w, i, payload)
				if err := s.Append(ctx, Entry{Text: text, Timestamp: time.Now()}); err != nil {
					t.Errorf("Append: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	lines := readLines(t, s.Path())
	if len(lines) != writers*perWriter {
		t.Fatalf("got %d lines, want %d", len(lines), writers*perWriter)
	}
	re := regexp.MustCompile(`^\[\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\] w\d+-\d+ x{512}$`)
	for i, line := range lines {
		if !re.MatchString(line) {
			t.Fatalf("line %d is corrupted: %.80q", i, line)
		}
	}
}

func TestFileSink_Close(t *testing.T) {
	s := openTemp(t)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if err := s.Append(context.Background(), Entry{Text: "late"}); !errors.Is(err, ErrClosed) {
		t.Errorf("Append after Close err = %v, want ErrClosed", err)
	}
	if err := s.Check(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Check after Close err = %v, want ErrClosed", err)
	}
}

func TestFileSink_CheckDetectsRemovedFile(t *testing.T) {
	s := openTemp(t)
	if err := s.Check(context.Background()); err != nil {
		t.Fatalf("Check on fresh sink: %v", err)
	}
	if err := os.Remove(s.Path()); err != nil {
		t.Fatal(err)
	}
	if err := s.Check(context.Background()); err == nil {
		t.Error("Check succeeded after the log file was removed")
	}
}

// Package journal implements the append-only, durable event log backing
// crash recovery and resume. One file per session, newline-delimited JSON,
// fsynced on every append. Append is the only mutation.
package journal

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileName is the journal file inside a session directory.
const FileName = "journal.jsonl"

// maxLineBytes bounds a single journal record. A record larger than this is
// treated as malformed on read.
const maxLineBytes = 1 << 20

// ErrNotFound is returned when a session directory has no journal.
var ErrNotFound = errors.New("journal not found")

// Journal appends events for exactly one session. It is safe for concurrent
// use within a process, but a session still has exactly one writer: cross-
// process exclusion is the session lock's job, not the journal's.
type Journal struct {
	mu   sync.Mutex
	file *os.File
	path string
	seq  int
}

// Open creates or opens the journal for a session directory. When the file
// already has records (a resumed daemon restart mid-session), the sequence
// counter continues after the last well-formed record and any torn tail
// left by a crash mid-write is truncated, so later appends start on a
// fresh line instead of merging into the torn bytes.
func Open(sessionDir string) (*Journal, error) {
	path := filepath.Join(sessionDir, FileName)
	if err := os.MkdirAll(sessionDir, 0755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}

	existing, validLen, err := readPrefix(path)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if err == nil {
		if info, statErr := os.Stat(path); statErr == nil && info.Size() > validLen {
			if err := os.Truncate(path, validLen); err != nil {
				return nil, fmt.Errorf("truncate torn journal tail: %w", err)
			}
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	seq := 0
	if n := len(existing); n > 0 {
		seq = existing[n-1].Seq
	}

	return &Journal{file: file, path: path, seq: seq}, nil
}

// Append assigns the next sequence number and a timestamp in place, then
// writes and syncs the record. The write is synchronous: when Append
// returns nil the record is on disk.
func (j *Journal) Append(ev *Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.seq++
	ev.Seq = j.seq
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(ev)
	if err != nil {
		j.seq--
		return fmt.Errorf("marshal event: %w", err)
	}
	data = append(data, '\n')

	if _, err := j.file.Write(data); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("sync journal: %w", err)
	}
	return nil
}

// Seq returns the sequence number of the last appended record.
func (j *Journal) Seq() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.seq
}

func (j *Journal) Path() string {
	return j.path
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	return err
}

// Read returns the well-formed prefix of a journal file. A truncated or
// garbled tail (crash mid-write) is not an error: reading stops at the
// first malformed line and whatever parsed before it is returned.
func Read(path string) ([]Event, error) {
	events, _, err := readPrefix(path)
	return events, err
}

// readPrefix parses the well-formed prefix and reports its length in bytes,
// so Open can cut a torn tail off at exactly that offset. A final line with
// no trailing newline is part of the tail, not the prefix: Append writes
// each record and its newline in a single write, so a missing newline means
// the write never completed.
func readPrefix(path string) ([]Event, int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, 0, fmt.Errorf("open journal: %w", err)
	}

	var events []Event
	var validLen int64
	for off := 0; off < len(data); {
		i := bytes.IndexByte(data[off:], '\n')
		if i < 0 {
			break
		}
		line := data[off : off+i]
		off += i + 1

		if len(line) == 0 {
			validLen = int64(off)
			continue
		}
		if len(line) > maxLineBytes {
			break
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			break
		}
		if ev.Type == "" {
			break
		}
		events = append(events, ev)
		validLen = int64(off)
	}
	return events, validLen, nil
}

// ReadSession reads the journal inside a session directory.
func ReadSession(sessionDir string) ([]Event, error) {
	return Read(filepath.Join(sessionDir, FileName))
}

package storage

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cuemby/agenthub/pkg/log"
	"github.com/cuemby/agenthub/pkg/types"
	"github.com/rs/zerolog"
)

const (
	sessionsFile   = "sessions.jsonl"
	transcriptsDir = "transcripts"
	logExt         = ".jsonl"
)

// maxOpenFiles bounds the append handles kept open at once. The least
// recently written file is closed when a new one is needed.
const maxOpenFiles = 128

// ErrLogClosed is returned by appends after Close
var ErrLogClosed = errors.New("log is closed")

// FileLog implements Log using newline-delimited JSON files:
//
//	<dir>/sessions.jsonl                 all session lifecycle records
//	<dir>/transcripts/<session>.jsonl    one file per session
//
// Append handles stay open between writes and are released by Close.
type FileLog struct {
	dir    string
	logger zerolog.Logger

	mu     sync.Mutex
	files  map[string]*appendFile
	tick   uint64
	closed bool
}

// appendFile serializes access to one log file and caches its handle
type appendFile struct {
	mu      sync.Mutex
	f       *os.File
	evicted bool

	// lastUsed is guarded by FileLog.mu
	lastUsed uint64
}

var _ Log = (*FileLog)(nil)

// NewFileLog creates the log directory layout under dir
func NewFileLog(dir string) (*FileLog, error) {
	if err := os.MkdirAll(filepath.Join(dir, transcriptsDir), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	return &FileLog{
		dir:    dir,
		files:  make(map[string]*appendFile),
		logger: log.WithComponent("storage"),
	}, nil
}

// Dir returns the root directory of the log
func (l *FileLog) Dir() string {
	return l.dir
}

// Close closes every cached file handle. Later appends fail with
// ErrLogClosed; loads keep working.
func (l *FileLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.closed = true
	var errs []error
	for path, af := range l.files {
		af.mu.Lock()
		if err := af.release(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close %s: %w", path, err))
		}
		af.mu.Unlock()
	}
	clear(l.files)
	return errors.Join(errs...)
}

// AppendSessionRecord appends one lifecycle record to the session log
func (l *FileLog) AppendSessionRecord(rec SessionRecord) error {
	return l.appendLine(l.sessionsPath(), rec)
}

// AppendTranscriptEvent appends one event to its session's transcript log
func (l *FileLog) AppendTranscriptEvent(ev *types.TranscriptEvent) error {
	if ev.SessionID == "" {
		return errors.New("transcript event has no session id")
	}
	return l.appendLine(l.transcriptPath(ev.SessionID), ev)
}

// LoadSessions replays the session log in file order. A start record
// creates (or replaces) the session, an update merges fields and an end
// forces the status to idle.
func (l *FileLog) LoadSessions() (map[string]*types.Session, error) {
	sessions := make(map[string]*types.Session)

	err := l.readLines(l.sessionsPath(), func(line []byte) bool {
		var rec SessionRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return false
		}
		applySessionRecord(sessions, rec)
		return true
	})
	if err != nil {
		return nil, err
	}

	return sessions, nil
}

func applySessionRecord(sessions map[string]*types.Session, rec SessionRecord) {
	switch rec.Op {
	case SessionOpStart:
		if rec.Session == nil || rec.Session.ID == "" {
			return
		}
		sessions[rec.Session.ID] = rec.Session.Clone()

	case SessionOpUpdate:
		s, ok := sessions[rec.SessionID]
		if !ok || rec.Update == nil {
			return
		}
		rec.Update.Apply(s)
		s.UpdatedAt = rec.Timestamp

	case SessionOpEnd:
		s, ok := sessions[rec.SessionID]
		if !ok {
			return
		}
		s.Status = types.SessionStatusIdle
		s.UpdatedAt = rec.Timestamp
	}
}

// LoadTranscript returns every persisted event of one session in file order
func (l *FileLog) LoadTranscript(sessionID string) ([]*types.TranscriptEvent, error) {
	var events []*types.TranscriptEvent

	err := l.readLines(l.transcriptPath(sessionID), func(line []byte) bool {
		var ev types.TranscriptEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			return false
		}
		if ev.SessionID == "" {
			ev.SessionID = sessionID
		}
		events = append(events, &ev)
		return true
	})
	if err != nil {
		return nil, err
	}

	return events, nil
}

// LoadAllTranscripts loads the transcript of every session found on disk
func (l *FileLog) LoadAllTranscripts() (map[string][]*types.TranscriptEvent, error) {
	entries, err := os.ReadDir(filepath.Join(l.dir, transcriptsDir))
	if err != nil {
		if os.IsNotExist(err) {
			return map[string][]*types.TranscriptEvent{}, nil
		}
		return nil, fmt.Errorf("failed to list transcripts: %w", err)
	}

	all := make(map[string][]*types.TranscriptEvent)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, logExt) {
			continue
		}

		sessionID, err := url.PathUnescape(strings.TrimSuffix(name, logExt))
		if err != nil {
			l.logger.Warn().Str("file", name).Msg("Skipping transcript with undecodable name")
			continue
		}

		events, err := l.LoadTranscript(sessionID)
		if err != nil {
			return nil, err
		}
		all[sessionID] = events
	}

	return all, nil
}

func (l *FileLog) sessionsPath() string {
	return filepath.Join(l.dir, sessionsFile)
}

func (l *FileLog) transcriptPath(sessionID string) string {
	return filepath.Join(l.dir, transcriptsDir, url.PathEscape(sessionID)+logExt)
}

// file returns the entry for path, evicting the least recently used handle
// when the cache is full
func (l *FileLog) file(path string) (*appendFile, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, ErrLogClosed
	}

	af, ok := l.files[path]
	if !ok {
		if len(l.files) >= maxOpenFiles {
			l.evictLocked()
		}
		af = &appendFile{}
		l.files[path] = af
	}
	l.tick++
	af.lastUsed = l.tick
	return af, nil
}

func (l *FileLog) evictLocked() {
	var (
		oldestPath string
		oldest     *appendFile
	)
	for path, af := range l.files {
		if oldest == nil || af.lastUsed < oldest.lastUsed {
			oldestPath, oldest = path, af
		}
	}
	if oldest == nil {
		return
	}
	delete(l.files, oldestPath)

	oldest.mu.Lock()
	if err := oldest.release(); err != nil {
		l.logger.Warn().Err(err).Str("file", oldestPath).Msg("Failed to close log file")
	}
	oldest.mu.Unlock()
}

// release must be called with af.mu held
func (af *appendFile) release() error {
	af.evicted = true
	if af.f == nil {
		return nil
	}
	err := af.f.Close()
	af.f = nil
	return err
}

// appendLine writes v as a single JSON line with one write call, so a
// crash can only ever tear the last line of a file.
func (l *FileLog) appendLine(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	data = append(data, '\n')

	for {
		af, err := l.file(path)
		if err != nil {
			return err
		}

		af.mu.Lock()
		if af.evicted {
			// Closed between lookup and lock; look it up again
			af.mu.Unlock()
			continue
		}
		err = af.write(path, data)
		af.mu.Unlock()
		return err
	}
}

// write must be called with af.mu held
func (af *appendFile) write(path string, data []byte) error {
	if af.f == nil {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", path, err)
		}
		af.f = f
	}

	if _, err := af.f.Write(data); err != nil {
		af.f.Close()
		af.f = nil
		return fmt.Errorf("failed to append to %s: %w", path, err)
	}
	return nil
}

// readLines calls parse for each non-empty line of path. Lines that parse
// rejects are skipped and counted. A missing file reads as empty.
func (l *FileLog) readLines(path string, parse func(line []byte) bool) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	// Wait out an append in progress so a half-written line is not read
	l.mu.Lock()
	af := l.files[path]
	l.mu.Unlock()
	if af != nil {
		af.mu.Lock()
		defer af.mu.Unlock()
	}

	reader := bufio.NewReader(f)
	skipped := 0
	lineNo := 0
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			lineNo++
			trimmed := []byte(strings.TrimSpace(string(line)))
			if len(trimmed) > 0 && !parse(trimmed) {
				skipped++
				l.logger.Warn().
					Str("file", path).
					Int("line", lineNo).
					Msg("Skipping unparseable log line")
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
	}

	if skipped > 0 {
		l.logger.Warn().Str("file", path).Int("skipped", skipped).Msg("Log replay skipped corrupt lines")
	}
	return nil
}

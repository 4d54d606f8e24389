package persist

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode"

	"pkt.systems/pslog"
	"pkt.systems/taskwatch/schema"
)

// Store persists task transcripts to disk, one JSON file per task.
type Store struct {
	dir string
	log pslog.Logger
	now func() time.Time
}

// NewStore constructs a transcript store at the given directory.
func NewStore(dir string) (*Store, error) {
	return NewStoreWithLogger(dir, nil)
}

// NewStoreWithLogger constructs a transcript store with logging.
func NewStoreWithLogger(dir string, logger pslog.Logger) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("transcript directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	if logger != nil {
		logger = logger.With("transcript_dir", dir)
	}
	return &Store{dir: dir, log: logger, now: time.Now}, nil
}

// Dir returns the store directory.
func (s *Store) Dir() string {
	return s.dir
}

// SaveSnapshot writes the final viewer snapshot as a transcript and returns its path.
func (s *Store) SaveSnapshot(snapshot schema.ViewerSnapshot) (string, error) {
	return s.Save(schema.TaskTranscript{
		TaskID: snapshot.TaskID,
		Status: snapshot.Status,
		Lines:  snapshot.Lines,
	})
}

// Save writes a transcript atomically and returns its path.
func (s *Store) Save(transcript schema.TaskTranscript) (string, error) {
	if transcript.TaskID == "" {
		return "", schema.ErrInvalidTask
	}
	if transcript.SavedAt.IsZero() {
		transcript.SavedAt = s.now().UTC()
	}
	if transcript.Lines == nil {
		transcript.Lines = []string{}
	}
	path := s.pathForTask(transcript.TaskID)
	if err := writeAtomic(path, transcript); err != nil {
		s.warn("transcript save failed", transcript.TaskID, err)
		return "", err
	}
	if s.log != nil {
		s.log.Info("transcript saved", "task", transcript.TaskID, "lines", len(transcript.Lines), "path", path)
	}
	return path, nil
}

// Load reads a transcript from disk.
func (s *Store) Load(taskID schema.TaskID) (schema.TaskTranscript, bool, error) {
	path := s.pathForTask(taskID)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if s.log != nil {
				s.log.Debug("transcript load miss", "task", taskID)
			}
			return schema.TaskTranscript{}, false, nil
		}
		s.warn("transcript load failed", taskID, err)
		return schema.TaskTranscript{}, false, err
	}
	var transcript schema.TaskTranscript
	if err := json.Unmarshal(data, &transcript); err != nil {
		s.warn("transcript load failed", taskID, err)
		return schema.TaskTranscript{}, false, fmt.Errorf("decode transcript %s: %w", taskID, err)
	}
	return transcript, true, nil
}

// List returns the task ids with a stored transcript, sorted.
func (s *Store) List() ([]schema.TaskID, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	ids := make([]schema.TaskID, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, "transcript-") {
			continue
		}
		ids = append(ids, schema.TaskID(strings.TrimSuffix(name, ".json")))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *Store) warn(msg string, taskID schema.TaskID, err error) {
	if s.log != nil {
		s.log.Warn(msg, "task", taskID, "err", err)
	}
}

func writeAtomic(path string, value any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "transcript-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (s *Store) pathForTask(taskID schema.TaskID) string {
	name := sanitize(string(taskID))
	if name == "" {
		name = "unknown"
	}
	return filepath.Join(s.dir, name+".json")
}

func sanitize(value string) string {
	var b strings.Builder
	for _, r := range value {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			continue
		}
		if r == '-' || r == '_' || r == '.' {
			b.WriteRune(r)
			continue
		}
		b.WriteRune('_')
	}
	return b.String()
}

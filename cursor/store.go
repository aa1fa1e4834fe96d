// Package cursor persists the position the subscriber resumes polling from.
package cursor

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

var (
	cursorWrites = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hubsub_cursor_writes_total",
		Help: "The total number of successful durable cursor writes",
	})

	cursorWriteErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hubsub_cursor_write_errors_total",
		Help: "The total number of failed durable cursor writes",
	})

	cursorReadErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hubsub_cursor_read_errors_total",
		Help: "The total number of cursor file reads that fell back to an empty cursor",
	})
)

// FileStore keeps the next URI to poll in a single-line text file.
//
// Writes are serialized by writeMu. The cached value has its own lock so a slow
// write never blocks readers of the previous value.
type FileStore struct {
	path string

	writeMu sync.Mutex

	cacheMu sync.RWMutex
	cached  string
}

// NewFileStore opens the cursor file at dir/name, creating dir if needed.
// A missing file is created empty so an unwritable location fails here rather
// than on the first poll.
func NewFileStore(dir, name string) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" || strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("cursor store needs both a directory and a file name")
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("cursor directory %s does not exist and could not be created: %w", dir, err)
	}

	store := &FileStore{path: filepath.Join(dir, name)}

	if _, err := os.Stat(store.path); err == nil {
		store.setCached(store.readFile())
		return store, nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("stat cursor file: %w", err)
	}

	if err := store.Write(""); err != nil {
		return nil, err
	}
	return store, nil
}

// Path returns the location of the cursor file
func (s *FileStore) Path() string {
	return s.path
}

// Read returns the stored cursor or "" when none has been stored yet.
func (s *FileStore) Read() string {
	s.cacheMu.RLock()
	cached := s.cached
	s.cacheMu.RUnlock()

	if cached != "" {
		return cached
	}

	// Nothing cached, the file may have been written by an earlier process.
	// Holding writeMu keeps a concurrent Write from being overwritten with
	// what the file held before it.
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.cacheMu.RLock()
	cached = s.cached
	s.cacheMu.RUnlock()
	if cached != "" {
		return cached
	}

	uri := s.readFile()
	if uri != "" {
		s.setCached(uri)
	}
	return uri
}

// Write durably replaces the stored cursor. The cached value only changes once
// the file has been synced and renamed into place.
func (s *FileStore) Write(uri string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	uri = strings.TrimSpace(uri)

	log.WithFields(log.Fields{
		"path": s.path,
		"uri":  uri,
	}).Debug("Storing cursor")

	if err := s.writeFile(uri); err != nil {
		cursorWriteErrors.Inc()
		log.WithFields(log.Fields{
			"path":  s.path,
			"error": err,
		}).Error("Could not write cursor file")
		return fmt.Errorf("write cursor: %w", err)
	}

	cursorWrites.Inc()
	s.setCached(uri)
	return nil
}

func (s *FileStore) writeFile(uri string) error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), "."+filepath.Base(s.path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if _, err := tmp.WriteString(uri + "\n"); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// readFile returns the first line of the cursor file, or "" if it can't be read
func (s *FileStore) readFile() string {
	f, err := os.Open(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			cursorReadErrors.Inc()
			log.WithFields(log.Fields{
				"path":  s.path,
				"error": err,
			}).Warn("Could not read cursor file, resuming from feed head")
		}
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 4096), 1024*1024)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			cursorReadErrors.Inc()
			log.WithFields(log.Fields{
				"path":  s.path,
				"error": err,
			}).Warn("Could not read cursor file, resuming from feed head")
		}
		return ""
	}
	return strings.TrimSpace(scanner.Text())
}

func (s *FileStore) setCached(uri string) {
	s.cacheMu.Lock()
	s.cached = uri
	s.cacheMu.Unlock()
}

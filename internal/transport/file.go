package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ursprung-go/collection-system/internal/event"
	"github.com/ursprung-go/collection-system/internal/pipeline"
)

// FileTransport implements loader.Transport by appending each published
// event to a tag-named file under a spool directory, one line per event.
// This is the config.FileTransport destination used when a host runs
// without Kafka (spec.md §6 out-dst=File), grounded on the append-only,
// one-writer-per-source style of ingesters/fileFollow and singleFile.
type FileTransport struct {
	dir string

	mtx   sync.Mutex
	files map[string]*os.File
}

func NewFileTransport(dir string) *FileTransport {
	return &FileTransport{dir: dir, files: make(map[string]*os.File)}
}

func (f *FileTransport) Publish(ctx context.Context, key, tag string, b []byte) error {
	w, err := f.writerFor(tag)
	if err != nil {
		return err
	}
	f.mtx.Lock()
	defer f.mtx.Unlock()
	if _, err := w.Write(b); err != nil {
		return err
	}
	_, err = w.Write([]byte("\n"))
	return err
}

func (f *FileTransport) writerFor(tag string) (*os.File, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	if w, ok := f.files[tag]; ok {
		return w, nil
	}
	if err := os.MkdirAll(f.dir, 0750); err != nil {
		return nil, fmt.Errorf("transport: mkdir spool dir: %w", err)
	}
	path := filepath.Join(f.dir, tag+".log")
	w, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
	if err != nil {
		return nil, fmt.Errorf("transport: open spool file %s: %w", path, err)
	}
	f.files[tag] = w
	return w, nil
}

func (f *FileTransport) Close() error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	var err error
	for _, w := range f.files {
		if e := w.Close(); e != nil {
			err = e
		}
	}
	return err
}

// FileSource implements pipeline.Source by polling a single spool file for
// newly appended lines, carrying the last-read byte offset across polls.
// Unlike internal/actions' LOGLOAD reader, which persists its offset and
// inode through a state backend so it tolerates rotation of an externally
// managed application log, this source only ever reads a file this same
// process's FileTransport appends to in place, so inode tracking across
// restarts is unnecessary.
type FileSource struct {
	path         string
	pollInterval time.Duration

	f      *os.File
	r      *bufio.Reader
	offset int64
}

func NewFileSource(path string, pollInterval time.Duration) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("transport: open spool file %s: %w", path, err)
	}
	if pollInterval <= 0 {
		pollInterval = 250 * time.Millisecond
	}
	return &FileSource{path: path, pollInterval: pollInterval, f: f, r: bufio.NewReader(f)}, nil
}

func (s *FileSource) Close() error { return s.f.Close() }

// Recv returns the next complete line as an event, blocking (subject to
// ctx) until one becomes available.
func (s *FileSource) Recv(ctx context.Context) (event.Event, pipeline.Outcome) {
	for {
		line, err := s.r.ReadString('\n')
		if err == nil {
			s.offset += int64(len(line))
			ev, derr := event.Deserialize(line[:len(line)-1])
			if derr != nil {
				return nil, pipeline.Retry
			}
			return ev, pipeline.OK
		}
		if err != io.EOF {
			return nil, pipeline.NoRetry
		}
		select {
		case <-ctx.Done():
			return nil, pipeline.EOF
		case <-time.After(s.pollInterval):
		}
		// re-seek so a subsequent ReadString starts after everything
		// consumed so far, including any partial line buffered by r.
		if _, err := s.f.Seek(s.offset, io.SeekStart); err != nil {
			return nil, pipeline.NoRetry
		}
		s.r.Reset(s.f)
	}
}

package actions

import (
	"context"
	"os"
	"strings"
	"sync"
)

// FileSink appends CSV records to a flat file, one per line, backing
// the "INTO FILE path" destination form shared by every action type.
type FileSink struct {
	mtx sync.Mutex
	f   *os.File
}

func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
	if err != nil {
		return nil, err
	}
	return &FileSink{f: f}, nil
}

func (s *FileSink) SendBatch(ctx context.Context, records []string) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	_, err := s.f.WriteString(strings.Join(records, "\n") + "\n")
	return err
}

func (s *FileSink) Close() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.f.Close()
}

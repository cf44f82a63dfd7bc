package actionstate

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
)

type stateKey struct {
	ruleID, target string
}

// FileBackend keeps state in a single flat file, one "ruleID\ttarget\tstate"
// record per line, rewritten in full on every update. This mirrors
// FileStateBackend managing a file called "state" in the working
// directory; here the path is explicit rather than implied.
type FileBackend struct {
	path string

	mtx   sync.Mutex
	state map[stateKey]string
}

func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path, state: make(map[stateKey]string)}
}

func (f *FileBackend) Connect(ctx context.Context) error {
	fh, err := os.Open(f.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("actionstate: open %s: %w", f.path, err)
	}
	defer fh.Close()

	f.mtx.Lock()
	defer f.mtx.Unlock()
	sc := bufio.NewScanner(fh)
	for sc.Scan() {
		parts := strings.SplitN(sc.Text(), "\t", 3)
		if len(parts) != 3 {
			continue
		}
		f.state[stateKey{ruleID: parts[0], target: parts[1]}] = parts[2]
	}
	return sc.Err()
}

func (f *FileBackend) Disconnect() error { return nil }

func (f *FileBackend) InsertState(ctx context.Context, ruleID, state, target string) error {
	return f.UpdateState(ctx, ruleID, state, target)
}

func (f *FileBackend) UpdateState(ctx context.Context, ruleID, state, target string) error {
	f.mtx.Lock()
	f.state[stateKey{ruleID: ruleID, target: target}] = state
	f.mtx.Unlock()
	return f.flush()
}

func (f *FileBackend) LookupState(ctx context.Context, ruleID, target string) (string, bool, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	s, ok := f.state[stateKey{ruleID: ruleID, target: target}]
	return s, ok, nil
}

// flush rewrites the whole state file. Called with f.mtx unlocked; it
// takes its own lock to snapshot.
func (f *FileBackend) flush() error {
	f.mtx.Lock()
	var b strings.Builder
	for k, v := range f.state {
		fmt.Fprintf(&b, "%s\t%s\t%s\n", k.ruleID, k.target, v)
	}
	f.mtx.Unlock()
	return os.WriteFile(f.path, []byte(b.String()), 0640)
}

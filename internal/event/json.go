package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// jsonMarker is the literal substring whose presence on a wire line selects
// the JSON decoding path over the CSV one.
const jsonMarker = "WF_JSON"

// IsJSON reports whether a wire line should be decoded as a watch-folder
// JSON record rather than CSV.
func IsJSON(line string) bool {
	return strings.Contains(line, jsonMarker)
}

var wfEventToFSName = map[string]FSName{
	"IN_OPEN":          FSOpen,
	"IN_CLOSE_WRITE":   FSClose,
	"IN_CLOSE_NOWRITE": FSClose,
	"IN_CREATE":        FSCreate,
	"IN_DELETE":        FSUnlink,
	"IN_DELETE_SELF":   FSUnlink,
	"IN_MOVED_FROM":    FSRename,
	"IN_MOVED_TO":      FSRename,
}

const jsonTimeLayout = "2006-01-02_15:04:05-0700"

type jsonRecord struct {
	Event       string `json:"event"`
	ClusterName string `json:"clusterName"`
	NodeName    string `json:"nodeName"`
	FSName      string `json:"fsName"`
	Path        string `json:"path"`
	Inode       string `json:"inode"`
	EventTime   string `json:"eventTime"`
	ProcessID   string `json:"processId"`
	Permissions string `json:"permissions"`
	Cookie      string `json:"cookie"`
}

// ErrAwaitingMove is returned by JSONDecoder.Decode for a lone
// IN_MOVED_FROM record: it is cached, not emitted, pending its IN_MOVED_TO
// counterpart.
var ErrAwaitingMove = errors.New("event: IN_MOVED_FROM awaiting matching IN_MOVED_TO")

// ErrOrphanMove is returned for an IN_MOVED_TO with no prior IN_MOVED_FROM
// for the same cookie; the record is discarded.
var ErrOrphanMove = errors.New("event: IN_MOVED_TO with no matching IN_MOVED_FROM")

// JSONDecoder decodes the watch-folder JSON wire form into FSEvents,
// coalescing IN_MOVED_FROM/IN_MOVED_TO pairs sharing a cookie into one
// RENAME event. A decoder is process-wide state, mirroring the original
// source's static cookie map; callers should share one instance per
// process rather than per connection.
type JSONDecoder struct {
	mtx     sync.Mutex
	pending map[uint64]string // cookie -> source path
}

func NewJSONDecoder() *JSONDecoder {
	return &JSONDecoder{pending: make(map[uint64]string)}
}

// Decode parses one JSON wire line, returning (event, nil) on a complete
// record, (nil, ErrAwaitingMove) while caching a lone IN_MOVED_FROM, or
// (nil, ErrOrphanMove) for an orphan IN_MOVED_TO.
func (d *JSONDecoder) Decode(line string) (*FSEvent, error) {
	if i := strings.IndexByte(line, '{'); i > 0 {
		line = line[i:]
	}
	var rec jsonRecord
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	fsName, ok := wfEventToFSName[rec.Event]
	if !ok {
		return nil, fmt.Errorf("%w: unknown watch-folder event %q", ErrMalformed, rec.Event)
	}
	inode, err := strconv.ParseUint(rec.Inode, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad inode: %v", ErrMalformed, err)
	}
	pid, err := strconv.Atoi(rec.ProcessID)
	if err != nil {
		return nil, fmt.Errorf("%w: bad processId: %v", ErrMalformed, err)
	}
	evtTime, err := parseJSONTime(rec.EventTime)
	if err != nil {
		return nil, fmt.Errorf("%w: bad eventTime: %v", ErrMalformed, err)
	}
	mode, err := strconv.ParseUint(rec.Permissions, 8, 32)
	if err != nil {
		return nil, fmt.Errorf("%w: bad permissions: %v", ErrMalformed, err)
	}
	cookie, err := strconv.ParseUint(rec.Cookie, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad cookie: %v", ErrMalformed, err)
	}

	path := rec.Path
	dstPath := ""

	if rec.Event == "IN_MOVED_FROM" {
		d.mtx.Lock()
		d.pending[cookie] = path
		d.mtx.Unlock()
		return nil, ErrAwaitingMove
	}
	if rec.Event == "IN_MOVED_TO" {
		d.mtx.Lock()
		src, ok := d.pending[cookie]
		if ok {
			delete(d.pending, cookie)
		}
		d.mtx.Unlock()
		if !ok {
			return nil, ErrOrphanMove
		}
		dstPath = path
		path = src
	}

	var br, bw uint64
	switch rec.Event {
	case "IN_CLOSE_NOWRITE":
		br = 1
	case "IN_CLOSE_WRITE":
		bw = 1
	}

	return &FSEvent{
		Node:         rec.NodeName,
		Send:         time.Now().UTC(),
		Pid:          pid,
		Inode:        inode,
		BytesRead:    br,
		BytesWritten: bw,
		Name:         fsName,
		EventTime:    evtTime,
		Cluster:      rec.ClusterName,
		FS:           rec.FSName,
		Path:         path,
		DstPath:      dstPath,
		Mode:         uint32(mode),
	}, nil
}

// parseJSONTime parses the watch-folder timestamp format and normalizes it
// to UTC with zeroed milliseconds (watch folders don't supply sub-second
// precision).
func parseJSONTime(s string) (time.Time, error) {
	t, err := time.Parse(jsonTimeLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

package event

import (
	"strconv"
	"strings"
	"time"
)

// FSName enumerates the file-system event kinds tracked for TRACK/LOGLOAD.
type FSName string

const (
	FSOpen   FSName = "OPEN"
	FSClose  FSName = "CLOSE"
	FSCreate FSName = "CREATE"
	FSUnlink FSName = "UNLINK"
	FSRename FSName = "RENAME"
)

// FSEvent reports a file-system level change, produced either from the
// JSON inotify-style wire form or synthesized by TRACK bookkeeping.
type FSEvent struct {
	Node          string
	Send          time.Time
	Pid           int
	Inode         uint64
	BytesRead     uint64
	BytesWritten  uint64
	Name          FSName
	EventTime     time.Time
	Cluster       string
	FS            string
	Path          string
	DstPath       string
	Mode          uint32
	VersionHash   string
}

func (e *FSEvent) Type() Type          { return TypeFS }
func (e *FSEvent) NodeName() string    { return e.Node }
func (e *FSEvent) SendTime() time.Time { return e.Send }

func (e *FSEvent) Serialize() string {
	var b strings.Builder
	header(&b, TypeFS, e.Node, e.Send)
	fieldInt(&b, e.Pid)
	b.WriteString(strconv.FormatUint(e.Inode, 10))
	b.WriteByte(',')
	b.WriteString(strconv.FormatUint(e.BytesRead, 10))
	b.WriteByte(',')
	b.WriteString(strconv.FormatUint(e.BytesWritten, 10))
	b.WriteByte(',')
	field(&b, string(e.Name))
	field(&b, formatTime(e.EventTime))
	field(&b, e.Cluster)
	field(&b, e.FS)
	field(&b, e.Path)
	field(&b, e.DstPath)
	b.WriteString(strconv.FormatUint(uint64(e.Mode), 8))
	b.WriteByte(',')
	field(&b, e.VersionHash)
	return b.String()
}

func (e *FSEvent) GetValue(f string) (string, bool) {
	switch f {
	case "pid":
		return strconv.Itoa(e.Pid), true
	case "inode":
		return strconv.FormatUint(e.Inode, 10), true
	case "bytes_read":
		return strconv.FormatUint(e.BytesRead, 10), true
	case "bytes_written":
		return strconv.FormatUint(e.BytesWritten, 10), true
	case "event":
		return string(e.Name), true
	case "path":
		return e.Path, true
	case "dst_path":
		return e.DstPath, true
	case "cluster":
		return e.Cluster, true
	case "fs":
		return e.FS, true
	case "event_time":
		return formatTime(e.EventTime), true
	case "node_name":
		return e.Node, true
	}
	return "", false
}

func deserializeFS(node string, send time.Time, fs []string) (Event, error) {
	// pid,inode,bytes_read,bytes_written,name,event_time,cluster,fsname,path,dst_path,mode,version,
	if len(fs) < 11 {
		return nil, ErrMalformed
	}
	inode, err := strconv.ParseUint(fs[1], 10, 64)
	if err != nil {
		return nil, err
	}
	br, err := strconv.ParseUint(fs[2], 10, 64)
	if err != nil {
		return nil, err
	}
	bw, err := strconv.ParseUint(fs[3], 10, 64)
	if err != nil {
		return nil, err
	}
	evtTime, err := parseTime(fs[5])
	if err != nil {
		return nil, err
	}
	mode, err := strconv.ParseUint(fs[10], 8, 32)
	if err != nil {
		return nil, err
	}
	return &FSEvent{
		Node:         node,
		Send:         send,
		Pid:          atoiOr(fs[0], 0),
		Inode:        inode,
		BytesRead:    br,
		BytesWritten: bw,
		Name:         FSName(fs[4]),
		EventTime:    evtTime,
		Cluster:      fs[6],
		FS:           fs[7],
		Path:         fs[8],
		DstPath:      fs[9],
		Mode:         uint32(mode),
		VersionHash:  safeIndex(fs, 11),
	}, nil
}

func safeIndex(fs []string, i int) string {
	if i < len(fs) {
		return fs[i]
	}
	return ""
}

package event

import (
	"strconv"
	"strings"
)

// DecodeScale decodes the "scale" provenance source's CSV encoding of an
// FSEvent. Its field order differs from the auditd-sourced FSEvent CSV
// form: it has no leading type tag and no send_time, and node_name is its
// third field. No consumer input path calls it; it is a supplemental
// decoder, not the default wire format described in spec.md's data model
// table.
func DecodeScale(line string) (*FSEvent, error) {
	fs := strings.Split(strings.TrimRight(line, "\r\n"), ",")
	// event,cluster_name,node_name,fs_name,path,inode,bytes_read,bytes_written,pid,event_time,dst_path,mode
	if len(fs) < 12 {
		return nil, ErrMalformed
	}
	inode, err := strconv.ParseUint(fs[5], 10, 64)
	if err != nil {
		return nil, err
	}
	br, err := strconv.ParseUint(fs[6], 10, 64)
	if err != nil {
		return nil, err
	}
	bw, err := strconv.ParseUint(fs[7], 10, 64)
	if err != nil {
		return nil, err
	}
	pid, err := strconv.Atoi(fs[8])
	if err != nil {
		return nil, err
	}
	evtTime, err := parseTime(fs[9])
	if err != nil {
		return nil, err
	}
	var mode uint64
	if fs[11] != "" {
		mode, _ = strconv.ParseUint(fs[11], 8, 32)
	}
	return &FSEvent{
		Node:         fs[2],
		Pid:          pid,
		Inode:        inode,
		BytesRead:    br,
		BytesWritten: bw,
		Name:         FSName(fs[0]),
		EventTime:    evtTime,
		Cluster:      fs[1],
		FS:           fs[3],
		Path:         fs[4],
		DstPath:      fs[10],
		Mode:         uint32(mode),
	}, nil
}

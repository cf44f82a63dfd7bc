package event

import (
	"strconv"
	"strings"
	"time"
)

// IPCEvent reports a finalized pipe: the pid that wrote to it and the pid
// that read from it, with both ends' birth times.
type IPCEvent struct {
	Node        string
	Send        time.Time
	WriterPid   int
	ReaderPid   int
	WriterBirth time.Time
	ReaderBirth time.Time
}

func (e *IPCEvent) Type() Type          { return TypeIPC }
func (e *IPCEvent) NodeName() string    { return e.Node }
func (e *IPCEvent) SendTime() time.Time { return e.Send }

func (e *IPCEvent) Serialize() string {
	var b strings.Builder
	header(&b, TypeIPC, e.Node, e.Send)
	fieldInt(&b, e.WriterPid)
	fieldInt(&b, e.ReaderPid)
	field(&b, formatTime(e.WriterBirth))
	field(&b, formatTime(e.ReaderBirth))
	return b.String()
}

func (e *IPCEvent) GetValue(f string) (string, bool) {
	switch f {
	case "writer_pid":
		return strconv.Itoa(e.WriterPid), true
	case "reader_pid":
		return strconv.Itoa(e.ReaderPid), true
	case "node_name":
		return e.Node, true
	}
	return "", false
}

func deserializeIPC(node string, send time.Time, fs []string) (Event, error) {
	if len(fs) < 4 {
		return nil, ErrMalformed
	}
	wb, err := parseTime(fs[2])
	if err != nil {
		return nil, err
	}
	rb, err := parseTime(fs[3])
	if err != nil {
		return nil, err
	}
	return &IPCEvent{
		Node:        node,
		Send:        send,
		WriterPid:   atoiOr(fs[0], 0),
		ReaderPid:   atoiOr(fs[1], 0),
		WriterBirth: wb,
		ReaderBirth: rb,
	}, nil
}

// SocketEvent reports a closed, previously-bound socket.
type SocketEvent struct {
	Node      string
	Send      time.Time
	Pid       int
	OpenUTC   time.Time
	CloseUTC  time.Time
	LocalPort uint16
}

func (e *SocketEvent) Type() Type          { return TypeSocket }
func (e *SocketEvent) NodeName() string    { return e.Node }
func (e *SocketEvent) SendTime() time.Time { return e.Send }

func (e *SocketEvent) Serialize() string {
	var b strings.Builder
	header(&b, TypeSocket, e.Node, e.Send)
	fieldInt(&b, e.Pid)
	field(&b, formatTime(e.OpenUTC))
	field(&b, formatTime(e.CloseUTC))
	fieldInt(&b, int(e.LocalPort))
	return b.String()
}

func (e *SocketEvent) GetValue(f string) (string, bool) {
	switch f {
	case "pid":
		return strconv.Itoa(e.Pid), true
	case "local_port":
		return strconv.Itoa(int(e.LocalPort)), true
	case "node_name":
		return e.Node, true
	}
	return "", false
}

func deserializeSocket(node string, send time.Time, fs []string) (Event, error) {
	if len(fs) < 4 {
		return nil, ErrMalformed
	}
	open, err := parseTime(fs[1])
	if err != nil {
		return nil, err
	}
	closeT, err := parseTime(fs[2])
	if err != nil {
		return nil, err
	}
	return &SocketEvent{
		Node:      node,
		Send:      send,
		Pid:       atoiOr(fs[0], 0),
		OpenUTC:   open,
		CloseUTC:  closeT,
		LocalPort: uint16(atoiOr(fs[3], 0)),
	}, nil
}

// SocketConnectEvent reports an outbound connect() call.
type SocketConnectEvent struct {
	Node       string
	Send       time.Time
	Pid        int
	ConnectUTC time.Time
	RemoteHost string
	RemotePort uint16
}

func (e *SocketConnectEvent) Type() Type          { return TypeSocketConnect }
func (e *SocketConnectEvent) NodeName() string    { return e.Node }
func (e *SocketConnectEvent) SendTime() time.Time { return e.Send }

func (e *SocketConnectEvent) Serialize() string {
	var b strings.Builder
	header(&b, TypeSocketConnect, e.Node, e.Send)
	fieldInt(&b, e.Pid)
	field(&b, formatTime(e.ConnectUTC))
	field(&b, e.RemoteHost)
	fieldInt(&b, int(e.RemotePort))
	return b.String()
}

func (e *SocketConnectEvent) GetValue(f string) (string, bool) {
	switch f {
	case "pid":
		return strconv.Itoa(e.Pid), true
	case "dst_node":
		return e.RemoteHost, true
	case "dst_port":
		return strconv.Itoa(int(e.RemotePort)), true
	case "node_name":
		return e.Node, true
	}
	return "", false
}

func deserializeSocketConnect(node string, send time.Time, fs []string) (Event, error) {
	if len(fs) < 4 {
		return nil, ErrMalformed
	}
	connT, err := parseTime(fs[1])
	if err != nil {
		return nil, err
	}
	return &SocketConnectEvent{
		Node:       node,
		Send:       send,
		Pid:        atoiOr(fs[0], 0),
		ConnectUTC: connT,
		RemoteHost: fs[2],
		RemotePort: uint16(atoiOr(fs[3], 0)),
	}, nil
}

// Package provdproto implements the length-prefixed wire protocol spoken
// between a consumer's CAPTURESOUT action and the provd daemon running
// on an event's origin host: a u16 opcode, opcode-specific request body,
// and (for trace_process) a stream of u32-length-prefixed response
// lines, all in network byte order. Grounded on the entry package's own
// length-prefixed framing of log entries over the wire.
package provdproto

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Opcode identifies a provd request.
type Opcode uint16

const (
	OpTraceProcess Opcode = 0x0001
	OpStopTrace    Opcode = 0x0002
)

// DefaultPort is the provd daemon's default listening port.
const DefaultPort = 7531

var ErrRegexTooLarge = errors.New("provdproto: regex exceeds maximum request size")

// maxRegexLen bounds the regex_len field against a malicious/corrupt
// peer; large enough for any realistic MATCH phrase.
const maxRegexLen = 1 << 16

// maxLineLen bounds a response line length the same way.
const maxLineLen = 1 << 24

// WriteTraceProcess writes a trace_process request: opcode, u32 pid,
// u32 regex_len, then regex_len bytes of the NUL-terminated regex.
func WriteTraceProcess(w io.Writer, pid uint32, regex string) error {
	body := append([]byte(regex), 0)
	if len(body) > maxRegexLen {
		return ErrRegexTooLarge
	}
	hdr := make([]byte, 2+4+4)
	binary.BigEndian.PutUint16(hdr[0:2], uint16(OpTraceProcess))
	binary.BigEndian.PutUint32(hdr[2:6], pid)
	binary.BigEndian.PutUint32(hdr[6:10], uint32(len(body)))
	if _, err := w.Write(hdr); err != nil {
		return fmt.Errorf("provdproto: writing trace_process header: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("provdproto: writing trace_process regex: %w", err)
	}
	return nil
}

// WriteStopTrace writes a stop_trace request: opcode, u32 pid.
func WriteStopTrace(w io.Writer, pid uint32) error {
	hdr := make([]byte, 2+4)
	binary.BigEndian.PutUint16(hdr[0:2], uint16(OpStopTrace))
	binary.BigEndian.PutUint32(hdr[2:6], pid)
	_, err := w.Write(hdr)
	if err != nil {
		return fmt.Errorf("provdproto: writing stop_trace: %w", err)
	}
	return nil
}

// ReadRequest reads and decodes one request header plus its opcode-
// specific body off r, for use on the server side.
func ReadRequest(r io.Reader) (Opcode, uint32, string, error) {
	var opBuf [2]byte
	if _, err := io.ReadFull(r, opBuf[:]); err != nil {
		return 0, 0, "", err
	}
	op := Opcode(binary.BigEndian.Uint16(opBuf[:]))

	var pidBuf [4]byte
	if _, err := io.ReadFull(r, pidBuf[:]); err != nil {
		return 0, 0, "", fmt.Errorf("provdproto: reading pid: %w", err)
	}
	pid := binary.BigEndian.Uint32(pidBuf[:])

	switch op {
	case OpStopTrace:
		return op, pid, "", nil
	case OpTraceProcess:
		var lenBuf [4]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return 0, 0, "", fmt.Errorf("provdproto: reading regex_len: %w", err)
		}
		n := binary.BigEndian.Uint32(lenBuf[:])
		if n > maxRegexLen {
			return 0, 0, "", ErrRegexTooLarge
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return 0, 0, "", fmt.Errorf("provdproto: reading regex: %w", err)
		}
		regex := string(buf)
		if len(regex) > 0 && regex[len(regex)-1] == 0 {
			regex = regex[:len(regex)-1]
		}
		return op, pid, regex, nil
	default:
		return 0, 0, "", fmt.Errorf("provdproto: unknown opcode %#x", uint16(op))
	}
}

// WriteLine writes one response line as a u32 length prefix followed by
// the line bytes, the framing the client's receive loop reads until the
// server closes the connection.
func WriteLine(w io.Writer, line []byte) error {
	if len(line) > maxLineLen {
		return fmt.Errorf("provdproto: line of %d bytes exceeds max", len(line))
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(line)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(line)
	return err
}

// ReadLine reads one length-prefixed response line, returning io.EOF
// when the peer has closed the connection cleanly between frames.
func ReadLine(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxLineLen {
		return nil, fmt.Errorf("provdproto: line of %d bytes exceeds max", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("provdproto: short line read: %w", err)
	}
	return buf, nil
}

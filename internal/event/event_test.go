package event

import (
	"testing"
	"time"
)

func sampleTime(s int) time.Time {
	return time.Date(2026, 1, 1, 0, 0, s, 0, time.UTC)
}

func TestRoundTripAllTypes(t *testing.T) {
	node := "host-a"
	cases := []Event{
		&ProcessEvent{Node: node, Send: sampleTime(0), Pid: 122, Ppid: 121, Pgid: 122,
			Cwd: "/home/x", Argv: []string{"python", "train.py", "-i", "input"},
			BirthUTC: sampleTime(1), FinishUTC: sampleTime(4)},
		&ProcessGroupEvent{Node: node, Send: sampleTime(0), Pgid: 122, BirthUTC: sampleTime(2), FinishUTC: sampleTime(4)},
		&IPCEvent{Node: node, Send: sampleTime(0), WriterPid: 123, ReaderPid: 122, WriterBirth: sampleTime(1), ReaderBirth: sampleTime(1)},
		&SocketEvent{Node: node, Send: sampleTime(0), Pid: 122, OpenUTC: sampleTime(1), CloseUTC: sampleTime(2), LocalPort: 12345},
		&SocketConnectEvent{Node: node, Send: sampleTime(0), Pid: 123, ConnectUTC: sampleTime(1), RemoteHost: "some-host", RemotePort: 12345},
		&SyscallEvent{Node: node, Send: sampleTime(0), Serial: 42, Pid: 123, Ppid: 1, Uid: 0, Gid: 0, Euid: 0, Egid: 0,
			Syscall: "exit_group", RC: 0, Arg0: "a", Arg1: "b", Arg2: "c", Arg3: "d", Arg4: "e",
			EventTime: sampleTime(3), Data: []string{"foo", "bar"}},
		&FSEvent{Node: node, Send: sampleTime(0), Pid: 1, Inode: 99, BytesRead: 1, BytesWritten: 2,
			Name: FSClose, EventTime: sampleTime(1), Cluster: "c1", FS: "gpfs0", Path: "/a", DstPath: "/b",
			Mode: 0644, VersionHash: "deadbeef"},
		&TestEvent{Node: node, Send: sampleTime(0), F1: "a", F2: "b", F3: "c"},
	}

	for _, orig := range cases {
		line := orig.Serialize()
		got, err := Deserialize(line)
		if err != nil {
			t.Fatalf("deserialize %v: %v", orig.Type(), err)
		}
		if got.Serialize() != line {
			t.Fatalf("round trip mismatch for %v:\n  orig: %q\n  got:  %q", orig.Type(), line, got.Serialize())
		}
	}
}

func TestSyscallRCFailed(t *testing.T) {
	ok := &SyscallEvent{RC: RCInProgress}
	if ok.Failed() {
		t.Fatal("RCInProgress must not be treated as failed")
	}
	bad := &SyscallEvent{RC: -1}
	if !bad.Failed() {
		t.Fatal("negative rc other than RCInProgress must be treated as failed")
	}
	good := &SyscallEvent{RC: 0}
	if good.Failed() {
		t.Fatal("rc>=0 must not be treated as failed")
	}
}

func TestJSONMoveCoalescing(t *testing.T) {
	d := NewJSONDecoder()
	from := `{"event":"IN_MOVED_FROM","clusterName":"c1","nodeName":"host-a","fsName":"gpfs0","path":"/a","inode":"7","eventTime":"2026-01-01_00:00:00+0000","processId":"10","permissions":"644","cookie":"12345"}`
	to := `{"event":"IN_MOVED_TO","clusterName":"c1","nodeName":"host-a","fsName":"gpfs0","path":"/b","inode":"7","eventTime":"2026-01-01_00:00:01+0000","processId":"10","permissions":"644","cookie":"12345"}`

	if _, err := d.Decode(from); err != ErrAwaitingMove {
		t.Fatalf("expected ErrAwaitingMove, got %v", err)
	}
	fe, err := d.Decode(to)
	if err != nil {
		t.Fatalf("Decode(to): %v", err)
	}
	if fe.Name != FSRename || fe.Path != "/a" || fe.DstPath != "/b" {
		t.Fatalf("bad coalesced rename: %+v", fe)
	}

	// orphan IN_MOVED_TO
	orphan := `{"event":"IN_MOVED_TO","clusterName":"c1","nodeName":"host-a","fsName":"gpfs0","path":"/z","inode":"8","eventTime":"2026-01-01_00:00:02+0000","processId":"10","permissions":"644","cookie":"99999"}`
	if _, err := d.Decode(orphan); err != ErrOrphanMove {
		t.Fatalf("expected ErrOrphanMove, got %v", err)
	}
}

func TestIsJSON(t *testing.T) {
	if !IsJSON(`WF_JSON {"event":"IN_OPEN"}`) {
		t.Fatal("expected WF_JSON marker to be detected")
	}
	if IsJSON(`4,host,2026-01-01 00:00:00.000,1,2,3,`) {
		t.Fatal("CSV line must not be detected as JSON")
	}
}

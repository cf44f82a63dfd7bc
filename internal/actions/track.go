package actions

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/ursprung-go/collection-system/internal/event"
)

const defaultRepoLocation = "/opt/ursprung/contenttracking"

// TrackAction snapshots the content of a matched file into a content-
// addressed repository whenever it sees a CLOSE event with bytes
// written, recording a monotonically increasing per-inode version
// instead of a VCS commit id (no version-control library is available
// to bind to; see the design note on this substitution).
//
// "TRACK pathregex AT repo INTO dest"
type TrackAction struct {
	spec      string
	pathRegex *regexp.Regexp
	repoPath  string
	dest      Destination
	sink      Sink

	mtx           sync.Mutex
	versions      map[string]int // inode -> next version to assign
	failedCopy    map[string]bool
}

func newTrackAction(spec, ruleID string, deps Deps) (Action, error) {
	body := strings.TrimPrefix(spec, trackRule+" ")

	atPos := strings.Index(body, " AT ")
	intoPos := strings.Index(body, " INTO ")
	if intoPos < 0 {
		return nil, fmt.Errorf("actions: %q is not specified correctly (missing INTO)", spec)
	}

	var pathRegexStr, repoPath string
	if atPos < 0 {
		repoPath = defaultRepoLocation
		pathRegexStr = strings.TrimSpace(body[:intoPos])
	} else {
		pathRegexStr = strings.TrimSpace(body[:atPos])
		repoPath = strings.TrimSpace(body[atPos+len(" AT "):intoPos])
	}

	re, err := regexp.Compile(pathRegexStr)
	if err != nil {
		return nil, fmt.Errorf("actions: TRACK bad path regex: %w", err)
	}

	destStr := strings.TrimSpace(body[intoPos+len(" INTO "):])
	dest, err := ParseDestination(destStr)
	if err != nil {
		return nil, fmt.Errorf("actions: TRACK %w", err)
	}
	sink, err := deps.OpenSink(dest)
	if err != nil {
		return nil, fmt.Errorf("actions: TRACK could not open sink: %w", err)
	}

	if err := os.MkdirAll(repoPath, 0750); err != nil {
		return nil, fmt.Errorf("actions: TRACK could not create repo at %s: %w", repoPath, err)
	}

	return &TrackAction{
		spec:       spec,
		pathRegex:  re,
		repoPath:   repoPath,
		dest:       dest,
		sink:       sink,
		versions:   make(map[string]int),
		failedCopy: make(map[string]bool),
	}, nil
}

func (a *TrackAction) Execute(ctx context.Context, ev event.Event) error {
	src, _ := ev.GetValue("path")
	inode, _ := ev.GetValue("inode")
	kind, _ := ev.GetValue("event")

	a.mtx.Lock()
	switch kind {
	case "RENAME":
		if a.failedCopy[inode] {
			src, _ = ev.GetValue("dst_path")
			delete(a.failedCopy, inode)
		} else {
			a.mtx.Unlock()
			return nil
		}
	case "UNLINK":
		delete(a.failedCopy, inode)
		a.mtx.Unlock()
		return nil
	case "CLOSE":
		if bw, _ := ev.GetValue("bytes_written"); bw == "" || bw == "0" {
			a.mtx.Unlock()
			return nil
		}
	default:
		a.mtx.Unlock()
		return nil
	}
	a.mtx.Unlock()

	if src == "" || inode == "" {
		return nil
	}
	if !a.pathRegex.MatchString(src) {
		return nil
	}

	dstPath := filepath.Join(a.repoPath, inode)
	if err := copyFile(src, dstPath); err != nil {
		a.mtx.Lock()
		a.failedCopy[inode] = true
		a.mtx.Unlock()
		return fmt.Errorf("actions: TRACK: copying %s into repo: %w", src, err)
	}

	a.mtx.Lock()
	version := a.versions[inode] + 1
	a.versions[inode] = version
	a.mtx.Unlock()
	commitID := inode + "-v" + strconv.Itoa(version)

	clusterName, _ := ev.GetValue("cluster")
	nodeName := ev.NodeName()
	fsName, _ := ev.GetValue("fs")
	eventTime, _ := ev.GetValue("event_time")

	record := strings.Join([]string{clusterName, nodeName, fsName, src, inode, eventTime, commitID}, ",")
	return a.sink.SendBatch(ctx, []string{record})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

func (a *TrackAction) Type() string           { return trackRule }
func (a *TrackAction) NumConsumerThreads() int { return 1 }
func (a *TrackAction) String() string          { return a.spec }

// Package version holds the build version every collection-system
// binary reports on -v, the same way the teacher's ingesters report
// their own release.
package version

import (
	"fmt"
	"io"
)

const (
	Major int = 0
	Minor int = 1
	Point int = 0
)

// Commit is set at build time via -ldflags; left blank in source builds.
var Commit string

func String() string {
	if Commit != "" {
		return fmt.Sprintf("%d.%d.%d (%s)", Major, Minor, Point, Commit)
	}
	return fmt.Sprintf("%d.%d.%d", Major, Minor, Point)
}

func Print(w io.Writer, appName string) {
	fmt.Fprintf(w, "%s version %s\n", appName, String())
}

package actions

import (
	"os"
	"syscall"
)

// inodeOf returns the inode number backing fi, used to detect log
// rotation the same way the original's stat()-based st_ino comparison
// does. Returns 0 if the platform's FileInfo.Sys() isn't a syscall.Stat_t.
func inodeOf(fi os.FileInfo) uint64 {
	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		return uint64(st.Ino)
	}
	return 0
}

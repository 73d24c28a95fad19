//go:build linux

package uploader

import (
	"os"
	"syscall"
)

// ctime reads the inode change time, the closest thing to a creation time
// that survives the .part rename.
func ctime(fi os.FileInfo) int64 {
	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		return st.Ctim.Sec*1e9 + st.Ctim.Nsec
	}
	return fi.ModTime().UnixNano()
}

//go:build !linux

package uploader

import "os"

func ctime(fi os.FileInfo) int64 {
	return fi.ModTime().UnixNano()
}

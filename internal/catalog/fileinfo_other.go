//go:build !linux && !darwin && !windows

package catalog

import (
	"os"
	"time"
)

func creationTime(_ string, info os.FileInfo) time.Time {
	return info.ModTime()
}

func isHiddenOrSystem(os.FileInfo) bool {
	return false
}

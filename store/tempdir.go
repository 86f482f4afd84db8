package store

import (
	"os"
	"path/filepath"
	"runtime"
	"sync"
)

// runDirName is the subdirectory used when falling back to the home or
// working directory for run files.
const runDirName = ".extmerge"

var (
	diskPreferredDir string
	memoryAllowedDir string
	dirDiscoveryOnce sync.Once
)

// GetTempDir returns the directory run files should live under.
// A usable dir is returned as is. Otherwise the result is computed once per
// process: with preferDiskBacked, directories that are traditionally not tmpfs
// (/var/tmp) come first, since runs exist precisely because the data does not
// fit in memory.
func GetTempDir(dir string, preferDiskBacked bool) string {
	if dir != "" && isDirectoryUsable(dir) {
		return dir
	}
	dirDiscoveryOnce.Do(func() {
		diskPreferredDir = findBestDirectory(true)
		memoryAllowedDir = findBestDirectory(false)
	})
	if preferDiskBacked {
		return diskPreferredDir
	}
	return memoryAllowedDir
}

func findBestDirectory(preferDiskBacked bool) string {
	osTemp := os.TempDir()
	var candidates []string
	if preferDiskBacked {
		switch runtime.GOOS {
		case "linux", "freebsd", "openbsd", "netbsd", "dragonfly", "solaris":
			candidates = append(candidates, "/var/tmp")
		case "darwin":
			candidates = append(candidates, "/var/tmp", "/private/var/tmp")
		}
	}
	candidates = append(candidates, osTemp)
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, runDirName))
	}
	if wd, err := os.Getwd(); err == nil {
		candidates = append(candidates, filepath.Join(wd, runDirName))
	}
	for _, c := range candidates {
		if isDirectoryUsable(c) {
			return c
		}
	}
	return osTemp
}

// isDirectoryUsable reports whether dir is a directory or does not exist yet
// and may be created. Writability is only discovered when the store creates
// its first file.
func isDirectoryUsable(dir string) bool {
	stat, err := os.Stat(dir)
	if err != nil {
		return os.IsNotExist(err)
	}
	return stat.IsDir()
}

// Package strategy selects how the daemon delivers cache contents: a
// File strategy writing the cache to a tmpfs/RAMDisk-backed directory,
// or a Memory (stream-on-demand-via-IPC) strategy when the output
// directory sits on persistent disk (spec §4 SUPPLEMENTED FEATURES:
// cache strategy autodetection, grounded on
// _examples/original_source/src/cache_strategy.rs detect_cache_strategy).
package strategy

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// Strategy names how the daemon exposes cache contents to readers.
type Strategy int

const (
	// File means the cache is flushed to outputPath on a volatile
	// filesystem; readers open the file directly.
	File Strategy = iota
	// Memory means the cache stays in process memory; readers fetch
	// contents over the IPC socket instead (spec §4.6 getCode).
	Memory
)

func (s Strategy) String() string {
	if s == File {
		return "File"
	}
	return "Memory"
}

// Detect picks a Strategy for outputPath. writeToDisk forces File
// regardless of the underlying filesystem (spec §6 write_to_disk).
func Detect(outputPath string, writeToDisk bool, log zerolog.Logger) Strategy {
	if writeToDisk {
		log.Info().Str("path", outputPath).Msg("write_to_disk set, using File strategy")
		return File
	}

	dir := filepath.Dir(outputPath)
	if isTmpfs(dir) {
		log.Info().Str("path", dir).Msg("detected tmpfs, using File strategy")
		return File
	}

	log.Info().Str("path", dir).Msg("tmpfs not detected, using Memory strategy")
	return Memory
}

// isTmpfs reports whether dir is mounted on a tmpfs filesystem. It
// shells out to df -T first (matches what the system itself reports for
// the specific path) and falls back to scanning /proc/mounts for a
// tmpfs mount point that is a prefix of dir.
func isTmpfs(dir string) bool {
	if out, err := exec.Command("df", "-T", dir).Output(); err == nil {
		if strings.Contains(strings.ToLower(string(out)), "tmpfs") {
			return true
		}
	}
	return isTmpfsViaProcMounts(dir)
}

func isTmpfsViaProcMounts(dir string) bool {
	data, err := os.ReadFile("/proc/mounts")
	if err != nil {
		return false
	}
	best := ""
	bestIsTmpfs := false
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		mountPoint, fsType := fields[1], fields[2]
		if !strings.HasPrefix(dir, mountPoint) {
			continue
		}
		if len(mountPoint) > len(best) {
			best = mountPoint
			bestIsTmpfs = fsType == "tmpfs"
		}
	}
	return bestIsTmpfs
}

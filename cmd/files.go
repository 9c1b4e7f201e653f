package cmd

import (
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
)

// collectFiles gathers all dump files from the provided arguments.
// Arguments can be:
//   - "-" for stdin (passed through)
//   - Individual files
//   - Glob patterns (e.g., "*.txt")
//   - Directories (scans for supported dump files, non-recursive)
func collectFiles(args []string) []string {
	var files []string

	for _, arg := range args {
		if arg == "-" {
			files = append(files, arg)
			continue
		}

		// Check if argument is a directory
		info, err := os.Stat(arg)
		if err == nil && info.IsDir() {
			dirFiles, err := gatherDumpFiles(arg)
			if err != nil {
				log.Warnf("failed to read directory %s: %v", arg, err)
				continue
			}
			files = append(files, dirFiles...)
			continue
		}
		if err == nil {
			// An explicitly named file is accepted whatever its extension.
			files = append(files, arg)
			continue
		}

		// Try to expand as glob pattern
		matches, err := filepath.Glob(arg)
		if err != nil {
			log.Warnf("invalid pattern %s: %v", arg, err)
			continue
		}
		if len(matches) == 0 {
			log.Warnf("no files match pattern: %s", arg)
			continue
		}
		files = append(files, matches...)
	}

	return files
}

// gatherDumpFiles scans a directory for supported dump files (non-recursive).
func gatherDumpFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var dumpFiles []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if isSupportedDumpFile(entry.Name()) {
			dumpFiles = append(dumpFiles, filepath.Join(dir, entry.Name()))
		}
	}
	return dumpFiles, nil
}

// isSupportedDumpFile reports whether the file name looks like a
// supported dump format. Accepted extensions:
//   - .txt, .log, .dump, .tdump, .threaddump
//   - any of those with .gz, .zst or .zstd appended
//   - .7z support bundles
func isSupportedDumpFile(name string) bool {
	lower := strings.ToLower(name)
	if strings.HasSuffix(lower, ".7z") {
		return true
	}
	for _, comp := range []string{"", ".gz", ".zst", ".zstd"} {
		for _, ext := range []string{".txt", ".log", ".dump", ".tdump", ".threaddump"} {
			if strings.HasSuffix(lower, ext+comp) {
				return true
			}
		}
	}
	return false
}

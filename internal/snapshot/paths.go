package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// dataRootEnv names the environment variable holding the shared
	// MusicAdvisor data root.
	dataRootEnv = "MA_DATA_ROOT"

	// featuresDirName is the fixed directory under the data root that holds
	// all feature output, shared with the rest of the toolchain.
	featuresDirName = "features_output"

	// untitledID replaces track IDs that sanitise away to nothing.
	untitledID = "untitled"

	// timestampLayout names snapshot directories, second precision.
	timestampLayout = "20060102_150405"
)

// ResolveDataRoot picks the output root for one request: the explicit
// override when present, else the MA_DATA_ROOT environment variable, else
// ~/music-advisor/data. Pure function of (override, environment): no state is
// cached between calls.
func ResolveDataRoot(override string) string {
	if override != "" {
		return absOrSelf(override)
	}
	if env := os.Getenv(dataRootEnv); env != "" {
		return absOrSelf(env)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		// No resolvable home: fall back to the working directory so the
		// write still lands somewhere inspectable.
		return absOrSelf(filepath.Join("music-advisor", "data"))
	}
	return filepath.Join(home, "music-advisor", "data")
}

func absOrSelf(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

// SanitizeTrackID makes raw safe to use as a single path element: characters
// that are illegal in file names on any supported platform are stripped, and
// blank results fall back to "untitled".
func SanitizeTrackID(raw string) string {
	cleaned := strings.TrimSpace(raw)
	var b strings.Builder
	for _, r := range cleaned {
		switch {
		case r < 0x20, r == 0x7f:
			// control characters
		case strings.ContainsRune(`/\:*?"<>|`, r):
		default:
			b.WriteRune(r)
		}
	}
	out := strings.Trim(b.String(), " .")
	if out == "" {
		return untitledID
	}
	return out
}

// snapshotDir returns a fresh, not-yet-existing directory path for one
// snapshot of the given track under root, qualified by now. When a snapshot
// of the same track already landed in the same second, a numeric suffix
// keeps the new directory distinct so snapshots never overwrite each other.
func snapshotDir(root, namespace, trackID string, now time.Time) string {
	base := filepath.Join(root, featuresDirName, namespace, SanitizeTrackID(trackID))
	stamp := now.Format(timestampLayout)

	dir := filepath.Join(base, stamp)
	for i := 2; ; i++ {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			return dir
		}
		dir = filepath.Join(base, fmt.Sprintf("%s_%d", stamp, i))
	}
}

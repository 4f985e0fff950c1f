// Package version defines propsync version information and build metadata.
//
// CommitHash should be set using -ldflags during compilation; when it is not,
// the VCS revision recorded by the Go toolchain is used.
package version

import (
	"bytes"
	"fmt"
	"runtime/debug"
	"strings"
)

// CommitHash stores the current git commit hash of this build.
var CommitHash string

// semanticAlphabet is the allowed characters from the semantic versioning
// guidelines for pre-release version and build metadata strings.
const semanticAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz-"

const (
	appMajor uint = 0
	appMinor uint = 3
	appPatch uint = 0

	// appPreRelease MUST only contain characters from semanticAlphabet.
	appPreRelease = ""
)

// Version returns the semantic version (https://semver.org/).
func Version() string {
	version := fmt.Sprintf("%d.%d.%d", appMajor, appMinor, appPatch)
	if pre := normalizeVerString(appPreRelease, semanticAlphabet); pre != "" {
		version = fmt.Sprintf("%s-%s", version, pre)
	}
	return version
}

// Commit returns the build's commit hash, if known, and whether the working
// tree was modified.
func Commit() (hash string, dirty bool) {
	if h := strings.TrimSpace(CommitHash); h != "" {
		return h, false
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "", false
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			hash = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	return hash, dirty
}

// RichVersion returns the semantic version along with best-effort git
// metadata.
func RichVersion() string {
	version := Version()
	hash, dirty := Commit()
	if hash == "" {
		return version
	}
	if dirty {
		hash += "-dirty"
	}
	return fmt.Sprintf("%s commit_hash=%s", version, hash)
}

// UserAgent identifies the client in outbound requests.
func UserAgent() string {
	return "propsync/" + Version()
}

// normalizeVerString strips characters not present in alphabet.
func normalizeVerString(str string, alphabet string) string {
	var result bytes.Buffer
	for _, r := range str {
		if strings.ContainsRune(alphabet, r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

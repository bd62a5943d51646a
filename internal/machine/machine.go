// Package machine derives a stable identifier for the computer this service
// runs on. The identifier travels with every shared snapshot so the remote
// server can tell installations apart without learning anything about them.
package machine

import (
	"encoding/hex"
	"os"
	"runtime"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// idFiles are checked in order; the first readable, non-empty one wins.
var idFiles = []string{"/etc/machine-id", "/var/lib/dbus/machine-id"}

// Source supplies the raw facts the identifier is derived from.
type Source struct {
	ReadFile func(name string) ([]byte, error)
	Hostname func() (string, error)
	GOOS     string
	GOARCH   string
}

// DefaultSource reads the real operating system.
func DefaultSource() Source {
	return Source{
		ReadFile: os.ReadFile,
		Hostname: os.Hostname,
		GOOS:     runtime.GOOS,
		GOARCH:   runtime.GOARCH,
	}
}

// ID returns override when set, otherwise a 32-character hex digest of the
// OS machine id, hostname and platform.
func ID(override string, src Source) string {
	if v := strings.TrimSpace(override); v != "" {
		return v
	}

	var parts []string
	for _, f := range idFiles {
		if b, err := src.ReadFile(f); err == nil {
			if v := strings.TrimSpace(string(b)); v != "" {
				parts = append(parts, v)
				break
			}
		}
	}
	if host, err := src.Hostname(); err == nil {
		parts = append(parts, host)
	}
	parts = append(parts, src.GOOS, src.GOARCH)

	sum := blake2b.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:16])
}

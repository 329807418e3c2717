package atomicfile

import (
	"fmt"
	"path/filepath"

	"github.com/roach88/odin/internal/fingerprint"
)

// WriteSidecar writes a checksum sidecar next to the artifact:
// "<artifact>.sha256" containing "<hex-digest>  <basename>\n", the format
// sha256sum --check accepts. The sidecar is published atomically.
// Returns the sidecar path and the digest.
func WriteSidecar(artifact string) (string, string, error) {
	digest, err := fingerprint.ContentHash(artifact)
	if err != nil {
		return "", "", fmt.Errorf("sidecar for %s: %w", artifact, err)
	}

	sidecar := artifact + ".sha256"
	line := fmt.Sprintf("%s  %s\n", digest, filepath.Base(artifact))
	if err := Publish(sidecar, []byte(line)); err != nil {
		return "", "", err
	}
	return sidecar, digest, nil
}

package artifact

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// ManifestName is the file in the remote directory that records the
// fingerprint and size of every artifact this tool transferred, in either
// direction, and that still exists remotely.
// Plain FTP has no checksum command, so this is where remote fingerprints
// come from.
const ManifestName = ".timewsync.sums"

const manifestHeader = "# timewsync checksums v1: <sha256> <size> <id>"

var fingerprintRe = regexp.MustCompile(`^[0-9a-f]{64}$`)

type ManifestEntry struct {
	Fingerprint string
	Size        int64
}

// Manifest maps artifact ids to their last known content.
type Manifest map[string]ManifestEntry

// ParseManifest reads a manifest. Lines that do not parse are skipped and
// counted; comments and blank lines are not counted.
func ParseManifest(r io.Reader) (Manifest, int, error) {
	m := make(Manifest)
	skipped := 0

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		id, entry, ok := parseManifestLine(line)
		if !ok {
			skipped++
			continue
		}
		m[id] = entry
	}
	if err := scanner.Err(); err != nil {
		return m, skipped, fmt.Errorf("read manifest: %w", err)
	}
	return m, skipped, nil
}

func parseManifestLine(line string) (string, ManifestEntry, bool) {
	// the id is the remainder of the line so it may contain spaces
	fields := strings.SplitN(line, " ", 3)
	if len(fields) != 3 {
		return "", ManifestEntry{}, false
	}

	sum, sizeStr, id := fields[0], fields[1], fields[2]
	if !fingerprintRe.MatchString(sum) {
		return "", ManifestEntry{}, false
	}
	size, err := strconv.ParseInt(sizeStr, 10, 64)
	if err != nil || size < 0 {
		return "", ManifestEntry{}, false
	}
	if ValidateID(id) != nil {
		return "", ManifestEntry{}, false
	}
	return id, ManifestEntry{Fingerprint: sum, Size: size}, true
}

// Clone returns a copy that can be modified independently.
func (m Manifest) Clone() Manifest {
	c := make(Manifest, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

// Equal reports whether both manifests hold the same entries.
func (m Manifest) Equal(o Manifest) bool {
	if len(m) != len(o) {
		return false
	}
	for k, v := range m {
		if ov, ok := o[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// WriteTo writes the manifest sorted by id.
func (m Manifest) WriteTo(w io.Writer) (int64, error) {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	bw := bufio.NewWriter(w)
	var total int64

	n, err := fmt.Fprintln(bw, manifestHeader)
	total += int64(n)
	if err != nil {
		return total, err
	}
	for _, id := range ids {
		e := m[id]
		n, err := fmt.Fprintf(bw, "%s %d %s\n", e.Fingerprint, e.Size, id)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, bw.Flush()
}

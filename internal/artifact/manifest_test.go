package artifact

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	sumA = "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	sumB = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
)

func TestParseManifest_SkipsMalformedLines(t *testing.T) {
	input := strings.Join([]string{
		"# comment",
		"",
		sumA + " 11 2024-03.data",
		"not a manifest line",
		"XYZ 3 broken.data",
		sumB + " -1 negative.data",
		sumB + " 0 my data.data",
		sumB + " 0 bad/id.data",
	}, "\n")

	m, skipped, err := ParseManifest(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, 4, skipped)
	assert.Len(t, m, 2)
	assert.Equal(t, ManifestEntry{Fingerprint: sumA, Size: 11}, m["2024-03.data"])
	assert.Equal(t, ManifestEntry{Fingerprint: sumB, Size: 0}, m["my data.data"])
}

func TestManifest_WriteToIsParseable(t *testing.T) {
	m := Manifest{
		"tags.data":    {Fingerprint: sumB, Size: 0},
		"2024-03.data": {Fingerprint: sumA, Size: 11},
	}

	var buf bytes.Buffer
	_, err := m.WriteTo(&buf)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, sumA+" 11 2024-03.data", lines[1])

	parsed, skipped, err := ParseManifest(&buf)
	require.NoError(t, err)
	assert.Zero(t, skipped)
	assert.True(t, m.Equal(parsed))
}

func TestManifest_CloneIsIndependent(t *testing.T) {
	m := Manifest{"a.data": {Fingerprint: sumA, Size: 1}}
	c := m.Clone()
	c["b.data"] = ManifestEntry{Fingerprint: sumB}

	assert.Len(t, m, 1)
	assert.False(t, m.Equal(c))
}

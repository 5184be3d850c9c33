package staging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected string
		wantErr  bool
	}{
		{
			name:     "strips query",
			raw:      "https://host/path?x=1",
			expected: "https://host/path",
		},
		{
			name:     "strips fragment",
			raw:      "https://host/path#section",
			expected: "https://host/path",
		},
		{
			name:     "lowercases host",
			raw:      "https://Host.Example.COM/Path",
			expected: "https://host.example.com/Path",
		},
		{
			name:     "trims trailing slash",
			raw:      "https://host/path/",
			expected: "https://host/path",
		},
		{
			name:     "trims surrounding whitespace",
			raw:      "  https://host/path  ",
			expected: "https://host/path",
		},
		{
			name:    "rejects non-http scheme",
			raw:     "ftp://host/file",
			wantErr: true,
		},
		{
			name:    "rejects missing host",
			raw:     "https:///just-a-path",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeURL(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestNormalizeURL_IdenticalAfterNormalization(t *testing.T) {
	// The content-address invariant: two spellings of the same resource
	// stage under the same object key.
	a, err := NormalizeURL("https://host/path?x=1")
	require.NoError(t, err)
	b, err := NormalizeURL("https://host/path?x=2")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, ObjectKey("video", HashURL(a)), ObjectKey("video", HashURL(b)))
}

func TestHashURL(t *testing.T) {
	// sha256("https://host/path")
	assert.Equal(t,
		"1f93e0f8d42b90369c3d86f30550a2828023fb769d2b32ddee95fe8d3685ba03",
		HashURL("https://host/path"))
	assert.Len(t, HashURL("anything"), 64)
}

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "video/abc", ObjectKey("video", "abc"))
	assert.Equal(t, "audio/abc", ObjectKey("audio", "abc"))
}

func TestPresignedBase(t *testing.T) {
	base, err := PresignedBase("https://minio.local:9000/bucket/video/abc?X-Amz-Signature=deadbeef&X-Amz-Expires=300")
	require.NoError(t, err)
	assert.Equal(t, "https://minio.local:9000/bucket/video/abc", base)
}

func TestDomain(t *testing.T) {
	assert.Equal(t, "host.example.com", Domain("https://host.example.com/path"))
}

package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "items.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeManifest(t, `
items:
  - ref: report-a.pdf
    payload: /data/report-a.pdf
    link: https://files.example.com/report-a.pdf
  - ref: notes.txt
    payload: "inline HOLE-12 text"
`)

	items, err := Load(path)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "report-a.pdf", items[0].Ref)
	assert.Equal(t, "https://files.example.com/report-a.pdf", items[0].Link)
	assert.Equal(t, "inline HOLE-12 text", items[1].Payload)
	assert.Empty(t, items[1].Link)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "missing ref",
			content: "items:\n  - payload: /data/x.pdf\n",
			wantErr: "has no ref",
		},
		{
			name:    "missing payload",
			content: "items:\n  - ref: x.pdf\n",
			wantErr: "has no payload",
		},
		{
			name:    "duplicate ref",
			content: "items:\n  - ref: x.pdf\n    payload: a\n  - ref: x.pdf\n    payload: b\n",
			wantErr: "duplicate ref",
		},
		{
			name:    "not yaml",
			content: "{{{",
			wantErr: "parse manifest",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeManifest(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read manifest")
}

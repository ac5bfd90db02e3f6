package match

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractCodes(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "mixed codes",
			text: "drawing references HOLE-12 and HC-7 near the flange",
			want: []string{"HOLE-12", "HC-7"},
		},
		{
			name: "case insensitive",
			text: "hole-3 Hc-44",
			want: []string{"HOLE-3", "HC-44"},
		},
		{
			name: "no codes",
			text: "nothing of interest here",
			want: []string{},
		},
		{
			name: "word boundary respected",
			text: "MANHOLE-9 is not a hole code but HOLE-9 is",
			want: []string{"HOLE-9"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractCodes(tt.text))
		})
	}
}

func TestCodeMatcherProcess(t *testing.T) {
	ctx := context.Background()
	m := NewCodeMatcher()

	tests := []struct {
		name       string
		payload    string
		targets    []string
		wantCodes  []string
		wantStatus string
	}{
		{
			name:       "single match",
			payload:    "pipe section with HOLE-12 marked",
			targets:    []string{"HOLE-12", "HOLE-99"},
			wantCodes:  []string{"HOLE-12"},
			wantStatus: "1 Code",
		},
		{
			name:       "multiple matches deduplicated",
			payload:    "HC-1 again HC-1 and HOLE-2",
			targets:    []string{"hc-1", "hole-2"},
			wantCodes:  []string{"HC-1", "HOLE-2"},
			wantStatus: "2 Codes",
		},
		{
			name:       "found but not targeted",
			payload:    "contains HOLE-55 only",
			targets:    []string{"HOLE-1"},
			wantCodes:  nil,
			wantStatus: "No Match",
		},
		{
			name:       "empty payload",
			payload:    "",
			targets:    []string{"HOLE-1"},
			wantCodes:  nil,
			wantStatus: "No Match",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome, err := m.Process(ctx, tt.payload, tt.targets)
			require.NoError(t, err)
			assert.Equal(t, tt.wantCodes, outcome.FoundCodes)
			assert.Equal(t, tt.wantStatus, outcome.Status)
			assert.False(t, outcome.Failed)
		})
	}
}

func TestCodeMatcherReadsFilePayload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "drawing_1.txt")
	require.NoError(t, os.WriteFile(path, []byte("weld detail HOLE-7"), 0o644))

	outcome, err := NewCodeMatcher().Process(context.Background(), path, []string{"HOLE-7"})
	require.NoError(t, err)
	assert.Equal(t, []string{"HOLE-7"}, outcome.FoundCodes)
	assert.Equal(t, "1 Code", outcome.Status)
}

func TestStatusLabel(t *testing.T) {
	assert.Equal(t, "No Match", StatusLabel(0))
	assert.Equal(t, "1 Code", StatusLabel(1))
	assert.Equal(t, "3 Codes", StatusLabel(3))
}

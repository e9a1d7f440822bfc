package change

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/compintel-monitor/internal/hash/sha256"
	"github.com/JakeFAU/compintel-monitor/internal/monitor"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{in: "Hello, World!", want: "hello world"},
		{in: "  Multi\n\n\tline   text  ", want: "multi line text"},
		{in: "snake_case stays", want: "snake_case stays"},
		{in: "Price: $99.00/mo", want: "price 9900mo"},
		{in: "non breaking", want: "non breaking"},
		{in: "!!!", want: ""},
		{in: "tab\vstop", want: "tab stop"},
		{in: "line\u2028sep\u2029para", want: "line sep para"},
		{in: "zero\ufeffwidth", want: "zero width"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, Normalize(tt.in), "input %q", tt.in)
	}
}

func TestPageText(t *testing.T) {
	t.Parallel()
	require.Equal(t, "Title: Acme\n\nbody", PageText("Acme", "body"))
}

func TestClassify(t *testing.T) {
	t.Parallel()

	prev := "abc"
	require.Equal(t, monitor.ChangeNew, Classify(nil, "abc"))
	require.Equal(t, monitor.ChangeUnchanged, Classify(&prev, "abc"))
	require.Equal(t, monitor.ChangeModified, Classify(&prev, "def"))
	require.True(t, monitor.ChangeModified.Detected())
	require.False(t, monitor.ChangeUnchanged.Detected())
}

func TestDetectorIgnoresFormattingOnlyChanges(t *testing.T) {
	t.Parallel()

	d := NewDetector(sha256.New())
	first, err := d.ContentHash(PageText("Acme AI", "We launched   Model-X today."))
	require.NoError(t, err)
	second, kind, err := d.Detect(PageText("ACME AI", "we launched model x today"), &first)
	require.NoError(t, err)
	require.NotEqual(t, first, second, "hyphen removal joins words")

	third, kind, err := d.Detect(PageText("acme ai!", "We launched Model-X, today."), &first)
	require.NoError(t, err)
	require.Equal(t, first, third)
	require.Equal(t, monitor.ChangeUnchanged, kind)
	require.Len(t, first, 64)
}

package util

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-file-transfer/pkg/apierror"
)

func TestSanitizeFilename(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name        string
		input       string
		allowHidden bool
		want        string
	}{
		{"invalid characters", ` report<2026>?.pdf `, false, "report_2026__.pdf"},
		{"hidden allowed", ".env", true, ".env"},
		{"zero width", "Call\u200b of\u200b Duty\u200b screenshot.png", false, "Call of Duty screenshot.png"},
		{"format characters", "file\u200c\u200d\u2060\ufeff\u200ename.txt", false, "filename.txt"},
		{"control characters", "a\tb\x1f.txt", false, "ab.txt"},
		{"reserved lookalike", "CONSOLE.txt", false, "CONSOLE.txt"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := SanitizeFilename(tc.input, tc.allowHidden)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestSanitizeFilenameRejects(t *testing.T) {
	t.Parallel()

	for _, input := range []string{"   ", ".env", "CON.txt", "lpt1", "\u200b\u200c", "..", "a\x00b"} {
		_, err := SanitizeFilename(input, false)
		var apiErr *apierror.APIError
		require.ErrorAs(t, err, &apiErr, "input %q", input)
		assert.Equal(t, "INVALID_FILENAME", apiErr.Code)
		assert.Equal(t, 400, apiErr.HTTPStatus)
	}
}

func TestSanitizeFilenameTruncation(t *testing.T) {
	t.Parallel()

	t.Run("plain name", func(t *testing.T) {
		got, err := SanitizeFilename(strings.Repeat("a", 300), false)
		require.NoError(t, err)
		assert.Len(t, []rune(got), 255)
	})

	t.Run("keeps extension and whole runes", func(t *testing.T) {
		got, err := SanitizeFilename(strings.Repeat("é", 260)+".txt", false)
		require.NoError(t, err)
		assert.Len(t, []rune(got), 255)
		assert.True(t, strings.HasSuffix(got, ".txt"))
		assert.True(t, utf8.ValidString(got))
	})
}

func TestSanitizeRelativePath(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		`photos\2026/ img?.png`: "photos/2026/img_.png",
		"/a//./b.txt":           "a/b.txt",
		"config/.env":           "config/.env",
	}
	for input, want := range cases {
		got, err := SanitizeRelativePath(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got)
	}

	_, err := SanitizeRelativePath("a/../../b.txt")
	var apiErr *apierror.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "PATH_TRAVERSAL", apiErr.Code)

	_, err = SanitizeRelativePath(" / ")
	require.Error(t, err)
}

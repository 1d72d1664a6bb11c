package gen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFileList(t *testing.T) {
	reply := `[{"path": "src/a.js", "content": "let a = 1"},
	           {"path": "src/b.js", "content": "let b = 2"}]`
	files, err := ParseFileList(reply)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "src/a.js", files[0].Path)
}

func TestParseFileList_MarkdownFences(t *testing.T) {
	reply := "```json\n[{\"path\": \"a.js\", \"content\": \"x\"}]\n```"
	files, err := ParseFileList(reply)
	require.NoError(t, err)
	require.Len(t, files, 1)
}

func TestParseFileList_Rejections(t *testing.T) {
	cases := []string{
		"not json at all",
		"[]",
		`[{"path": "", "content": "x"}]`,
		`[{"path": "a.js", "content": ""}]`,
	}
	for _, reply := range cases {
		_, err := ParseFileList(reply)
		assert.Error(t, err, "reply %q should be rejected", reply)
	}
}

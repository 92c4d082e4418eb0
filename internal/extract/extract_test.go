package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileType(t *testing.T) {
	assert.Equal(t, "pdf", FileType("application/pdf", "report.pdf"))
	assert.Equal(t, "txt", FileType("text/plain; charset=utf-8", "notes.txt"))
	assert.Equal(t, "md", FileType("text/markdown", "readme.md"))
	assert.Equal(t, "html", FileType("text/html", "page.html"))

	// Extension fallback when the MIME type is generic or missing.
	assert.Equal(t, "pdf", FileType("application/octet-stream", "report.PDF"))
	assert.Equal(t, "md", FileType("", "README.markdown"))
	assert.Equal(t, "html", FileType("", "index.htm"))

	assert.Equal(t, "image/png", FileType("image/png", "photo.png"))
}

func TestRegistryExtract(t *testing.T) {
	r := NewRegistry()

	units, err := r.Extract("txt", []byte("hello world"))
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, "hello world", units[0])

	_, err = r.Extract("docx", []byte("x"))
	assert.Error(t, err)
}

func TestPlainTextRejectsEmpty(t *testing.T) {
	_, err := PlainText{}.Extract(nil)
	assert.Error(t, err)
}

func TestHTMLStripsMarkupAndBoilerplate(t *testing.T) {
	page := `<html><head><style>body{color:red}</style></head><body>
		<nav>Site navigation</nav>
		<script>alert("nope")</script>
		<p>First   paragraph.</p>
		<p>Second paragraph.</p>
		<footer>Copyright</footer>
	</body></html>`

	units, err := HTML{}.Extract([]byte(page))
	require.NoError(t, err)
	require.Len(t, units, 1)

	assert.Equal(t, "First paragraph. Second paragraph.", units[0])
	assert.NotContains(t, units[0], "alert")
	assert.NotContains(t, units[0], "navigation")
	assert.NotContains(t, units[0], "Copyright")
}

func TestHTMLRejectsEmptyBody(t *testing.T) {
	_, err := HTML{}.Extract([]byte("<html><body><script>x()</script></body></html>"))
	assert.Error(t, err)
}

func TestPDFRejectsGarbage(t *testing.T) {
	_, err := PDF{}.Extract([]byte("not a pdf"))
	assert.Error(t, err)
}

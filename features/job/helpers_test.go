package job

import (
	"bytes"
	"database/sql"
	"mime/multipart"
	"testing"

	"github.com/stretchr/testify/require"
)

func newMultipart(t *testing.T, buf *bytes.Buffer, field, filename string, content []byte) string {
	t.Helper()
	w := multipart.NewWriter(buf)
	part, err := w.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return w.FormDataContentType()
}

func sqlErrNoRows() error {
	return sql.ErrNoRows
}

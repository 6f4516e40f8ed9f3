package storage_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/nfrund/roomsync/internal/storage"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileHandler_Download(t *testing.T) {
	aferoStore := storage.NewAferoStore(afero.NewMemMapFs())
	uploader := storage.NewUploader(aferoStore, "http://example.test")

	loc, err := uploader.Upload(context.Background(), []byte("plain text body"), "notes.txt")
	require.NoError(t, err)

	e := echo.New()
	e.GET("/attachments/*", storage.NewFileHandler(aferoStore).Download)

	t.Run("serves an uploaded attachment at its locator", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, loc.URL, nil)
		rec := httptest.NewRecorder()

		e.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "plain text body", rec.Body.String())
		assert.Contains(t, rec.Header().Get(echo.HeaderContentType), "text/plain")
	})

	t.Run("detects binary content types", func(t *testing.T) {
		png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\x0dIHDR")
		imgLoc, err := uploader.Upload(context.Background(), png, "pic")
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, imgLoc.URL, nil)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "image/png", rec.Header().Get(echo.HeaderContentType))
		assert.True(t, bytes.Equal(png, rec.Body.Bytes()))
	})

	t.Run("missing attachment is 404", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/attachments/nothing-1", nil)
		rec := httptest.NewRecorder()

		e.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

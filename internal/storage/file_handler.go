package storage

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/labstack/echo/v4"
	"github.com/nfrund/roomsync/internal/domain"
)

// sniffLen is how much of an object is read to detect its content type.
const sniffLen = 3072

// FileHandler serves stored attachments over HTTP so that locators handed
// out by the Uploader are publicly fetchable.
type FileHandler struct {
	store  Store
	logger *slog.Logger
}

// NewFileHandler creates a new FileHandler.
func NewFileHandler(s Store) *FileHandler {
	return &FileHandler{
		store:  s,
		logger: slog.Default().With("service", "attachments"),
	}
}

// Download streams the attachment named by the wildcard path parameter.
// Register it as GET /attachments/*.
func (h *FileHandler) Download(c echo.Context) error {
	ctx := c.Request().Context()

	name := c.Param("*")
	if name == "" || strings.Contains(name, "..") {
		return c.String(http.StatusBadRequest, "Invalid attachment name")
	}
	key := path.Join(AttachmentPrefix, name)

	content, err := h.store.Open(ctx, key)
	if errors.Is(err, domain.ErrNotFound) {
		return c.String(http.StatusNotFound, "Attachment not found")
	}
	if err != nil {
		h.logger.Error("Failed to open attachment", "key", key, "error", err)
		return c.String(http.StatusInternalServerError, "Could not retrieve attachment")
	}
	defer content.Close()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(content, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		h.logger.Error("Failed to read attachment", "key", key, "error", err)
		return c.String(http.StatusInternalServerError, "Could not retrieve attachment")
	}
	head = head[:n]

	mime := mimetype.Detect(head)
	c.Response().Header().Set("Content-Disposition", `inline; filename="`+path.Base(key)+`"`)
	return c.Stream(http.StatusOK, mime.String(), io.MultiReader(bytes.NewReader(head), content))
}

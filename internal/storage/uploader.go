package storage

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/nfrund/roomsync/internal/domain"
)

// AttachmentPrefix is the directory all uploaded attachments live under.
const AttachmentPrefix = "attachments"

// Locator identifies an uploaded attachment. Key is the object name in the
// store; URL is where clients can fetch it.
type Locator struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

// Uploader stores attachment payloads and hands out public locators.
// There is no rollback: if the message that should reference an upload is
// never written, the object stays in the store unreferenced.
type Uploader struct {
	store   Store
	baseURL string
	now     func() time.Time
	logger  *slog.Logger

	mu   sync.Mutex
	last int64 // last stamp handed out, in unix millis
}

// UploaderOption configures an Uploader.
type UploaderOption func(*Uploader)

// WithClock overrides the time source used for object-name stamps.
func WithClock(now func() time.Time) UploaderOption {
	return func(u *Uploader) {
		u.now = now
	}
}

// WithLogger sets the logger used by the uploader.
func WithLogger(logger *slog.Logger) UploaderOption {
	return func(u *Uploader) {
		u.logger = logger
	}
}

// NewUploader creates an uploader writing to store. baseURL is the public
// prefix the attachment server is reachable at, e.g. "http://localhost:8080".
func NewUploader(store Store, baseURL string, opts ...UploaderOption) *Uploader {
	u := &Uploader{
		store:   store,
		baseURL: strings.TrimRight(baseURL, "/"),
		now:     time.Now,
		logger:  slog.Default().With("service", "uploader"),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Upload stores payload under a name built from suggestedName and the upload
// time. The stamp is strictly increasing per uploader so two uploads with the
// same name never overwrite each other.
func (u *Uploader) Upload(ctx context.Context, payload []byte, suggestedName string) (Locator, error) {
	key := path.Join(AttachmentPrefix, fmt.Sprintf("%s-%d", sanitizeName(suggestedName), u.stamp()))

	n, err := u.store.Save(ctx, key, bytes.NewReader(payload))
	if err != nil {
		u.logger.Error("Failed to store attachment", "key", key, "error", err)
		return Locator{}, domain.NewOpError("upload", domain.ErrUploadFailed, err)
	}

	u.logger.Debug("Attachment stored", "key", key, "bytes", n)
	return Locator{Key: key, URL: u.URL(key)}, nil
}

// URL resolves an object key to its public URL.
func (u *Uploader) URL(key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return u.baseURL + "/" + strings.Join(segments, "/")
}

// stamp returns the current time in millis, bumped past the previous stamp if needed.
func (u *Uploader) stamp() int64 {
	u.mu.Lock()
	defer u.mu.Unlock()

	ts := u.now().UnixMilli()
	if ts <= u.last {
		ts = u.last + 1
	}
	u.last = ts
	return ts
}

// sanitizeName strips directories and separators from a client-supplied file name.
func sanitizeName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(strings.TrimSpace(name))
	if name == "." || name == "/" || name == "" || name == ".." {
		return "attachment"
	}
	return name
}

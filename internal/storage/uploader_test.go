package storage

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/nfrund/roomsync/internal/domain"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingStore rejects every write, like a binary store that is out of quota.
type failingStore struct{}

func (failingStore) Save(ctx context.Context, path string, reader io.Reader) (int64, error) {
	return 0, errors.New("quota exceeded")
}

func (failingStore) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	return nil, domain.ErrNotFound
}

func (failingStore) Delete(ctx context.Context, path string) error { return nil }

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestUploader_Upload(t *testing.T) {
	memFs := afero.NewMemMapFs()
	at := time.UnixMilli(1700000000000)
	u := NewUploader(NewAferoStore(memFs), "https://files.example/", WithClock(fixedClock(at)))
	ctx := context.Background()

	loc, err := u.Upload(ctx, []byte("meow"), "cat.png")
	require.NoError(t, err)

	assert.Equal(t, "attachments/cat.png-1700000000000", loc.Key)
	assert.Equal(t, "https://files.example/attachments/cat.png-1700000000000", loc.URL)

	data, err := afero.ReadFile(memFs, loc.Key)
	require.NoError(t, err)
	assert.Equal(t, "meow", string(data))
}

func TestUploader_SameNameNeverCollides(t *testing.T) {
	memFs := afero.NewMemMapFs()
	// A frozen clock is the worst case: every upload happens in the same millisecond.
	u := NewUploader(NewAferoStore(memFs), "http://localhost", WithClock(fixedClock(time.UnixMilli(42))))
	ctx := context.Background()

	const uploads = 20
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		keys = make(map[string]string)
	)
	for i := 0; i < uploads; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload := string(rune('a' + i))
			loc, err := u.Upload(ctx, []byte(payload), "same.txt")
			assert.NoError(t, err)
			mu.Lock()
			keys[loc.Key] = payload
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	require.Len(t, keys, uploads, "every upload must get its own object")
	for key, payload := range keys {
		data, err := afero.ReadFile(memFs, key)
		require.NoError(t, err)
		assert.Equal(t, payload, string(data), "object %s was overwritten", key)
	}
}

func TestUploader_Failure(t *testing.T) {
	u := NewUploader(failingStore{}, "http://localhost")

	_, err := u.Upload(context.Background(), []byte("x"), "x.bin")

	assert.ErrorIs(t, err, domain.ErrUploadFailed)
}

func TestUploader_URLEscapesSegments(t *testing.T) {
	u := NewUploader(NewAferoStore(afero.NewMemMapFs()), "http://localhost:8080")
	assert.Equal(t, "http://localhost:8080/attachments/my%20cat.png-1", u.URL("attachments/my cat.png-1"))
}

func TestSanitizeName(t *testing.T) {
	cases := map[string]string{
		"cat.png":          "cat.png",
		"../../etc/passwd": "passwd",
		`C:\Users\me\a.txt`: "a.txt",
		"":                 "attachment",
		"  ":               "attachment",
		"/":                "attachment",
		"..":               "attachment",
	}
	for in, want := range cases {
		assert.Equal(t, want, sanitizeName(in), "input %q", in)
	}
}

package documents

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "intakes/int_1/doc_1/Business_Case_v2.pdf", ObjectKey("int_1", "doc_1", "Business Case v2.pdf"))
	assert.Equal(t, "intakes/int_1/doc_1/passwd", ObjectKey("int_1", "doc_1", "../../etc/passwd"))
	assert.Equal(t, "intakes/int_1/doc_1/evil.docx", ObjectKey("int_1", "doc_1", `C:\temp\evil.docx`))
}

func TestSafeFileNameFallback(t *testing.T) {
	assert.Equal(t, "document", SafeFileName("..."))
	assert.Equal(t, "document", SafeFileName("ü€"))
}

func TestUploadValidate(t *testing.T) {
	cases := []struct {
		name   string
		upload Upload
		want   error
	}{
		{name: "ok", upload: Upload{Size: 10, ContentType: "application/pdf"}},
		{name: "with params", upload: Upload{Size: 10, ContentType: "text/plain; charset=utf-8"}},
		{name: "empty", upload: Upload{Size: 0, ContentType: "application/pdf"}, want: ErrEmptyDocument},
		{name: "too large", upload: Upload{Size: MaxUploadBytes + 1, ContentType: "application/pdf"}, want: ErrTooLarge},
		{name: "executable", upload: Upload{Size: 10, ContentType: "application/x-msdownload"}, want: ErrUnsupportedType},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, tc.upload.Validate(), tc.want)
		})
	}
}

func TestStoreRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	endpoint := strings.TrimSpace(os.Getenv("GOVREVIEW_TEST_MINIO_ENDPOINT"))
	if endpoint == "" {
		t.Skip("GOVREVIEW_TEST_MINIO_ENDPOINT is not set")
	}

	ctx := context.Background()
	store, err := New(Config{
		Endpoint:  endpoint,
		AccessKey: os.Getenv("GOVREVIEW_TEST_MINIO_ACCESS_KEY"),
		SecretKey: os.Getenv("GOVREVIEW_TEST_MINIO_SECRET_KEY"),
		Bucket:    "govreview-test",
	})
	require.NoError(t, err)
	require.NoError(t, store.EnsureBucket(ctx))

	body := []byte("decision memo")
	key, err := store.Put(ctx, Upload{
		IntakeID:    "int_1",
		DocumentID:  "doc_1",
		FileName:    "memo.txt",
		ContentType: "text/plain",
		Size:        int64(len(body)),
		Body:        bytes.NewReader(body),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Remove(ctx, key) })

	link, err := store.PresignedURL(ctx, key, "memo.txt", time.Minute)
	require.NoError(t, err)

	resp, err := http.Get(link)
	require.NoError(t, err)
	defer resp.Body.Close()
	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

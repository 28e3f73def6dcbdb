package media

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func TestLocalStore_PutOpen(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	ref, err := store.Put(ctx, "20260301T120000.000000000Z-abcd1234-photo", pngHeader)
	require.NoError(t, err)
	assert.Equal(t, "20260301T120000.000000000Z-abcd1234-photo.png", ref)
	assert.Equal(t, "image/png", ContentType(ref))

	rc, err := store.Open(ctx, ref)
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, pngHeader, got)

	_, err = store.Put(ctx, "20260301T120000.000000000Z-abcd1234-photo", pngHeader)
	assert.Error(t, err, "refs are write-once")
}

func TestLocalStore_Delete(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	ref, err := store.Put(ctx, "abc-photo", pngHeader)
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, ref))

	_, err = store.Open(ctx, ref)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, store.Delete(ctx, ref), "deleting twice is fine")
	assert.NoError(t, store.Delete(ctx, "../escape"))
}

func TestLocalStore_OpenRejectsTraversal(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	for _, ref := range []string{"../secret", "a/b", "", ".hidden", "missing.bin"} {
		_, err := store.Open(context.Background(), ref)
		assert.ErrorIs(t, err, ErrNotFound, ref)
	}
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "application/octet-stream", ContentType("x.bin"))
	assert.Equal(t, "audio/mp4", ContentType("x.m4a"))
	assert.Equal(t, "image/jpeg", ContentType("x.jpg"))
}

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[*in.Bucket+"/"+*in.Key] = data
	f.types[*in.Bucket+"/"+*in.Key] = *in.ContentType
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, *in.Bucket+"/"+*in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3Store_PutOpen(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
	store := NewS3Store(fake, "bucket", "media/")
	ctx := context.Background()

	ref, err := store.Put(ctx, "abc-audio", []byte("plain bytes"))
	require.NoError(t, err)
	assert.Equal(t, "abc-audio.bin", ref)
	assert.Contains(t, fake.objects, "bucket/media/abc-audio.bin")
	assert.Equal(t, "text/plain; charset=utf-8", fake.types["bucket/media/abc-audio.bin"])

	rc, err := store.Open(ctx, ref)
	require.NoError(t, err)
	got, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, "plain bytes", string(got))

	_, err = store.Open(ctx, "missing.bin")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Delete(ctx, ref))
	assert.NotContains(t, fake.objects, "bucket/media/abc-audio.bin")
}

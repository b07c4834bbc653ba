package staging

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/conversation-relay/pkg/logging"
)

// mockS3Client records PutObject/DeleteObject calls for testing.
type mockS3Client struct {
	objects   map[string][]byte
	types     map[string]string
	deletes   []string
	putErr    error
	deleteErr error
}

func newMockS3() *mockS3Client {
	return &mockS3Client{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *mockS3Client) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	body, _ := io.ReadAll(input.Body)
	m.objects[*input.Key] = body
	m.types[*input.Key] = aws.ToString(input.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) DeleteObject(_ context.Context, input *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	m.deletes = append(m.deletes, *input.Key)
	if m.deleteErr != nil {
		return nil, m.deleteErr
	}
	delete(m.objects, *input.Key)
	return &s3.DeleteObjectOutput{}, nil
}

type mockPresigner struct {
	err     error
	expires time.Duration
}

func (p *mockPresigner) PresignGetObject(_ context.Context, input *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	if p.err != nil {
		return nil, p.err
	}
	opts := &s3.PresignOptions{}
	for _, fn := range optFns {
		fn(opts)
	}
	p.expires = opts.Expires
	return &v4.PresignedHTTPRequest{URL: "https://bucket.s3.local/" + *input.Key + "?X-Amz-Signature=abc"}, nil
}

func newTestStore(client *mockS3Client, presigner *mockPresigner) *S3Store {
	return NewS3Store(Config{
		Client:    client,
		Presigner: presigner,
		Bucket:    "media",
		Prefix:    "/staging/",
		URLTTL:    5 * time.Minute,
		Logger:    logging.Discard(),
	})
}

func TestS3StoreStageAndRelease(t *testing.T) {
	client := newMockS3()
	presigner := &mockPresigner{}
	store := newTestStore(client, presigner)

	res, err := store.Stage(context.Background(), Attachment{
		FileName:    "voice note.mp3",
		ContentType: "audio/mpeg",
		Data:        []byte("ID3"),
	})
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.True(t, strings.HasPrefix(res.Key, "staging/"))
	assert.True(t, strings.HasSuffix(res.Key, "/voice_note.mp3"))
	assert.Contains(t, res.URL, res.Key)
	assert.Equal(t, 5*time.Minute, presigner.expires)
	assert.Equal(t, []byte("ID3"), client.objects[res.Key])
	assert.Equal(t, "audio/mpeg", client.types[res.Key])

	require.NoError(t, store.Release(context.Background(), res))
	assert.True(t, res.Released())
	assert.NotContains(t, client.objects, res.Key)

	// second release is a no-op
	require.NoError(t, store.Release(context.Background(), res))
	assert.Len(t, client.deletes, 1)
}

func TestS3StoreReleaseNilIsNoop(t *testing.T) {
	store := newTestStore(newMockS3(), &mockPresigner{})
	assert.NoError(t, store.Release(context.Background(), nil))
}

func TestS3StoreStagePutFailure(t *testing.T) {
	client := newMockS3()
	client.putErr = errors.New("quota exceeded")
	store := newTestStore(client, &mockPresigner{})

	res, err := store.Stage(context.Background(), Attachment{FileName: "a.ogg", ContentType: "audio/ogg"})
	assert.Nil(t, res)
	var stagingErr *Error
	require.ErrorAs(t, err, &stagingErr)
	assert.Equal(t, "stage", stagingErr.Op)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestS3StoreStagePresignFailureCleansUp(t *testing.T) {
	client := newMockS3()
	store := newTestStore(client, &mockPresigner{err: errors.New("no credentials")})

	res, err := store.Stage(context.Background(), Attachment{FileName: "a.wav", ContentType: "audio/wav", Data: []byte("RIFF")})
	assert.Nil(t, res)
	var stagingErr *Error
	require.ErrorAs(t, err, &stagingErr)
	assert.Equal(t, "presign", stagingErr.Op)
	assert.Empty(t, client.objects, "partially staged object should be removed")
	assert.Len(t, client.deletes, 1)
}

func TestS3StoreNotConfigured(t *testing.T) {
	store := NewS3Store(Config{Logger: logging.Discard()})
	assert.False(t, store.Enabled())

	_, err := store.Stage(context.Background(), Attachment{})
	assert.ErrorIs(t, err, ErrNotConfigured)

	res := &StagedResource{Key: "staging/x"}
	assert.NoError(t, store.Release(context.Background(), res))
	assert.NoError(t, store.Remove(context.Background(), "k"))
}

func TestS3StoreReleaseFailureKeepsResourceReleasable(t *testing.T) {
	client := newMockS3()
	store := newTestStore(client, &mockPresigner{})
	res, err := store.Stage(context.Background(), Attachment{FileName: "a.mp3", ContentType: "audio/mpeg"})
	require.NoError(t, err)

	client.deleteErr = errors.New("unavailable")
	assert.Error(t, store.Release(context.Background(), res))
	assert.False(t, res.Released())

	client.deleteErr = nil
	assert.NoError(t, store.Release(context.Background(), res))
	assert.True(t, res.Released())
}

func TestS3StoreUploadAndRemove(t *testing.T) {
	client := newMockS3()
	store := newTestStore(client, &mockPresigner{})
	id := uuid.MustParse("7d1f0c5e-8a2b-4c3d-9e4f-5a6b7c8d9e0f")

	key := AttachmentKey("attachments", id, 0, "photo.png")
	assert.Equal(t, "attachments/7d1f0c5e-8a2b-4c3d-9e4f-5a6b7c8d9e0f/0-photo.png", key)

	require.NoError(t, store.Upload(context.Background(), key, Attachment{FileName: "photo.png", Data: []byte("png")}))
	assert.Equal(t, "application/octet-stream", client.types[key])

	require.NoError(t, store.Remove(context.Background(), key, ""))
	assert.Equal(t, []string{key}, client.deletes)
}

func TestAttachmentIsAudio(t *testing.T) {
	tests := []struct {
		contentType string
		want        bool
	}{
		{"audio/mpeg", true},
		{"Audio/OGG", true},
		{" audio/wav", true},
		{"image/png", false},
		{"video/mp4", false},
		{"", false},
		{"application/audio", false},
	}
	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			assert.Equal(t, tt.want, Attachment{ContentType: tt.contentType}.IsAudio())
		})
	}
}

func TestSanitizeFileName(t *testing.T) {
	assert.Equal(t, "clip.m4a", sanitizeFileName("../../etc/clip.m4a"))
	assert.Equal(t, "attachment", sanitizeFileName(""))
	assert.Equal(t, "na_me_.ogg", sanitizeFileName("na me?.ogg"))
}

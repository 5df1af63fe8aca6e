package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 keeps objects in a MemoryStore and pages listings two keys at a time.
type fakeS3 struct {
	mem          *MemoryStore
	mu           sync.Mutex
	contentTypes map[string]string
	failPut      error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{mem: NewMemoryStore(), contentTypes: map[string]string{}}
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, err := f.mem.Get(ctx, aws.ToString(in.Bucket), aws.ToString(in.Key))
	if errors.Is(err, ErrNotFound) {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(string(data)))}, nil
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.failPut != nil {
		return nil, f.failPut
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.contentTypes[aws.ToString(in.Key)] = aws.ToString(in.ContentType)
	f.mu.Unlock()
	return &s3.PutObjectOutput{}, f.mem.Put(ctx, aws.ToString(in.Bucket), aws.ToString(in.Key), data)
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	return &s3.DeleteObjectOutput{}, f.mem.Delete(ctx, aws.ToString(in.Bucket), aws.ToString(in.Key))
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	keys, err := f.mem.List(ctx, aws.ToString(in.Bucket), aws.ToString(in.Prefix))
	if err != nil {
		return nil, err
	}
	start := 0
	if in.ContinuationToken != nil {
		for i, k := range keys {
			if k == *in.ContinuationToken {
				start = i
			}
		}
	}
	end := start + 2
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	if end < len(keys) {
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(keys[end])
	} else {
		end = len(keys)
	}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	return out, nil
}

func TestS3StoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	store := NewS3Store(fake)

	require.NoError(t, store.Put(ctx, "b", "chunks/chunk_0.txt", []byte("to be or not to be")))
	require.NoError(t, store.Put(ctx, "b", "results/mapper_0.json", []byte(`{"be":2}`)))

	data, err := store.Get(ctx, "b", "chunks/chunk_0.txt")
	require.NoError(t, err)
	assert.Equal(t, "to be or not to be", string(data))

	assert.Equal(t, "text/plain", fake.contentTypes["chunks/chunk_0.txt"])
	assert.Equal(t, "application/json", fake.contentTypes["results/mapper_0.json"])

	require.NoError(t, store.Delete(ctx, "b", "chunks/chunk_0.txt"))
	_, err = store.Get(ctx, "b", "chunks/chunk_0.txt")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestS3StoreListPaginates(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	store := NewS3Store(fake)
	for _, k := range []string{"chunks/chunk_0.txt", "chunks/chunk_1.txt", "chunks/chunk_2.txt", "chunks/chunk_3.txt", "chunks/chunk_4.txt", "other"} {
		require.NoError(t, store.Put(ctx, "b", k, []byte("x")))
	}

	keys, err := store.List(ctx, "b", "chunks/")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"chunks/chunk_0.txt", "chunks/chunk_1.txt", "chunks/chunk_2.txt", "chunks/chunk_3.txt", "chunks/chunk_4.txt",
	}, keys)
}

func TestS3StorePutError(t *testing.T) {
	fake := newFakeS3()
	fake.failPut = errors.New("access denied")
	store := NewS3Store(fake)

	err := store.Put(context.Background(), "b", "k", []byte("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3://b/k")
	assert.Contains(t, err.Error(), "access denied")
}

func TestURI(t *testing.T) {
	assert.Equal(t, "s3://bucket/results/final_counts.json", URI("bucket", "results/final_counts.json"))
}

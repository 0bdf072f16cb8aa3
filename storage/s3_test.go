package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"skinroutine"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockS3 keeps objects in memory keyed by bucket/key.
type mockS3 struct {
	objects map[string][]byte
	getErr  error
	putErr  error
	puts    []*s3.PutObjectInput
}

func newMockS3() *mockS3 {
	return &mockS3{objects: map[string][]byte{}}
}

func (m *mockS3) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	data, ok := m.objects[aws.ToString(params.Bucket)+"/"+aws.ToString(params.Key)]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("The specified key does not exist.")}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(string(data)))}, nil
}

func (m *mockS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	m.puts = append(m.puts, params)
	if m.putErr != nil {
		return nil, m.putErr
	}
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	m.objects[aws.ToString(params.Bucket)+"/"+aws.ToString(params.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func TestS3CatalogStore(t *testing.T) {
	client := newMockS3()
	client.objects["artifacts/catalog/products.jsonl"] = []byte("{\"key\":\"a\",\"category\":\"serum\"}\n{\"key\":\"b\",\"category\":\"toner\"}\n")
	store := NewS3CatalogStore(client, "artifacts", "catalog/products.jsonl")

	items, err := store.ListItems(context.Background(), "serum")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "a", items[0].Key)

	all, err := store.ListItems(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	client.getErr = errors.New("AccessDenied")
	_, err = store.ListItems(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AccessDenied")
}

func TestS3RoutineStore(t *testing.T) {
	client := newMockS3()
	store := NewS3RoutineStore(client, "artifacts", "routines/")
	ctx := context.Background()

	_, err := store.Get(ctx, "s-1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Upsert(ctx, skinroutine.SavedRoutine{SessionID: "s-1", Attempts: 1}))
	require.Len(t, client.puts, 1)
	assert.Equal(t, "routines/s-1.json", aws.ToString(client.puts[0].Key))
	assert.Equal(t, "application/json", aws.ToString(client.puts[0].ContentType))

	got, err := store.Get(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Attempts)

	client.putErr = errors.New("SlowDown")
	err = store.Upsert(ctx, skinroutine.SavedRoutine{SessionID: "s-2"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SlowDown")
}

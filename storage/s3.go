package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"

	"skinroutine"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type s3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3CatalogStore reads a JSONL catalog object.
type S3CatalogStore struct {
	bucket string
	key    string
	s3     s3API
}

func NewS3CatalogStore(s3Client s3API, bucket, key string) *S3CatalogStore {
	return &S3CatalogStore{
		bucket: bucket,
		key:    key,
		s3:     s3Client,
	}
}

func (s *S3CatalogStore) ListItems(ctx context.Context, category string) ([]skinroutine.CatalogItem, error) {
	resp, err := s.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get catalog object from S3: %w", err)
	}
	defer resp.Body.Close()

	items, err := ReadCatalogJSONL(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("s3://%s/%s: %w", s.bucket, s.key, err)
	}
	return filterCategory(items, category), nil
}

// S3RoutineStore stores each session's routine at <prefix><session id>.json.
type S3RoutineStore struct {
	bucket string
	prefix string
	s3     s3API
}

func NewS3RoutineStore(s3Client s3API, bucket, prefix string) *S3RoutineStore {
	return &S3RoutineStore{
		bucket: bucket,
		prefix: prefix,
		s3:     s3Client,
	}
}

func (s *S3RoutineStore) key(sessionID string) string {
	return path.Join(s.prefix, sessionID+".json")
}

func (s *S3RoutineStore) Upsert(ctx context.Context, routine skinroutine.SavedRoutine) error {
	if err := validSessionID(routine.SessionID); err != nil {
		return err
	}
	data, err := json.Marshal(routine)
	if err != nil {
		return fmt.Errorf("marshal routine: %w", err)
	}

	_, err = s.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(routine.SessionID)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to put routine object to S3: %w", err)
	}
	return nil
}

func (s *S3RoutineStore) Get(ctx context.Context, sessionID string) (skinroutine.SavedRoutine, error) {
	if err := validSessionID(sessionID); err != nil {
		return skinroutine.SavedRoutine{}, err
	}
	resp, err := s.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(sessionID)),
	})
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return skinroutine.SavedRoutine{}, fmt.Errorf("routine %q: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return skinroutine.SavedRoutine{}, fmt.Errorf("failed to get routine object from S3: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return skinroutine.SavedRoutine{}, err
	}
	var routine skinroutine.SavedRoutine
	if err := json.Unmarshal(data, &routine); err != nil {
		return skinroutine.SavedRoutine{}, fmt.Errorf("decode routine %q: %w", sessionID, err)
	}
	return routine, nil
}

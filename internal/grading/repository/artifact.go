package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"labyrinth/internal/common/storage"
	"labyrinth/internal/grading/model"
	appErr "labyrinth/pkg/errors"

	"github.com/klauspost/compress/zstd"
)

const maxCodeArtifactBytes = 1 << 20

// ArtifactRepository stores code and zstd-compressed transcripts in one bucket.
type ArtifactRepository struct {
	store   storage.ObjectStorage
	bucket  string
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewArtifactRepository creates an artifact repository over store.
func NewArtifactRepository(store storage.ObjectStorage, bucket string) (*ArtifactRepository, error) {
	if store == nil {
		return nil, errors.New("object storage is required")
	}
	if bucket == "" {
		return nil, errors.New("bucket is required")
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder failed: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder failed: %w", err)
	}
	return &ArtifactRepository{store: store, bucket: bucket, encoder: enc, decoder: dec}, nil
}

// PutCode stores submitted code under key.
func (r *ArtifactRepository) PutCode(ctx context.Context, key, code string) error {
	data := []byte(code)
	if err := r.store.PutObject(ctx, r.bucket, key, bytes.NewReader(data), int64(len(data)), "text/x-python"); err != nil {
		return appErr.Wrapf(err, appErr.StorageError, "store code failed")
	}
	return nil
}

// GetCode loads code stored under key.
func (r *ArtifactRepository) GetCode(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", appErr.New(appErr.CodeArtifactMissing)
	}
	rc, err := r.store.GetObject(ctx, r.bucket, key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return "", appErr.New(appErr.CodeArtifactMissing).WithDetail("key", key)
		}
		return "", appErr.Wrapf(err, appErr.StorageError, "load code failed")
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(io.LimitReader(rc, maxCodeArtifactBytes+1))
	if err != nil {
		return "", appErr.Wrapf(err, appErr.StorageError, "read code failed")
	}
	if len(data) > maxCodeArtifactBytes {
		return "", appErr.New(appErr.CodeTooLarge).WithDetail("key", key)
	}
	return string(data), nil
}

// RemoveCode deletes the code stored under key. A missing object is not an error.
func (r *ArtifactRepository) RemoveCode(ctx context.Context, key string) error {
	if err := r.store.RemoveObjects(ctx, r.bucket, []string{key}); err != nil {
		return appErr.Wrapf(err, appErr.StorageError, "remove code failed")
	}
	return nil
}

// PutTranscript compresses and stores an execution transcript.
func (r *ArtifactRepository) PutTranscript(ctx context.Context, key string, transcript *model.Transcript) error {
	raw, err := json.Marshal(transcript)
	if err != nil {
		return fmt.Errorf("marshal transcript failed: %w", err)
	}
	data := r.encoder.EncodeAll(raw, nil)
	if err := r.store.PutObject(ctx, r.bucket, key, bytes.NewReader(data), int64(len(data)), "application/zstd"); err != nil {
		return appErr.Wrapf(err, appErr.StorageError, "store transcript failed")
	}
	return nil
}

// GetTranscript loads a transcript written by PutTranscript.
func (r *ArtifactRepository) GetTranscript(ctx context.Context, key string) (*model.Transcript, error) {
	rc, err := r.store.GetObject(ctx, r.bucket, key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, appErr.New(appErr.NotFound).WithDetail("key", key)
		}
		return nil, appErr.Wrapf(err, appErr.StorageError, "load transcript failed")
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.StorageError, "read transcript failed")
	}
	raw, err := r.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.StorageError, "decompress transcript failed")
	}
	var out model.Transcript
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode transcript failed: %w", err)
	}
	return &out, nil
}

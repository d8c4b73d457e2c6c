// Package repository persists submissions, mazes and grading artifacts.
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"labyrinth/internal/common/cache"
	"labyrinth/internal/grading/model"
	appErr "labyrinth/pkg/errors"
)

const statusKeyPrefix = "grading:status:"

// StatusRepository keeps the latest submission status in Redis.
type StatusRepository struct {
	cache cache.Store
	TTL   time.Duration
}

// NewStatusRepository creates a new repository.
func NewStatusRepository(cacheClient cache.Store, ttl time.Duration) *StatusRepository {
	return &StatusRepository{cache: cacheClient, TTL: ttl}
}

// Get returns status by submission id.
func (r *StatusRepository) Get(ctx context.Context, submissionID string) (*model.Submission, error) {
	if submissionID == "" {
		return nil, appErr.ValidationError("submission_id", "required")
	}
	if r.cache == nil {
		return nil, appErr.New(appErr.CacheError).WithMessage("cache client is not initialized")
	}
	val, err := r.cache.Get(ctx, statusKeyPrefix+submissionID)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.CacheError, "load status failed")
	}
	if val == "" {
		return nil, appErr.New(appErr.CacheMiss).WithMessage("submission status not cached")
	}
	var sub model.Submission
	if err := json.Unmarshal([]byte(val), &sub); err != nil {
		return nil, appErr.Wrapf(err, appErr.CacheError, "decode status failed")
	}
	return &sub, nil
}

// Save replaces the cached status of sub. Callers order their own writes.
func (r *StatusRepository) Save(ctx context.Context, sub *model.Submission) error {
	if sub == nil || sub.ID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	if r.cache == nil {
		return appErr.New(appErr.CacheError).WithMessage("cache client is not initialized")
	}
	data, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("marshal status failed: %w", err)
	}
	if err := r.cache.Set(ctx, statusKeyPrefix+sub.ID, string(data), r.TTL); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "store status failed")
	}
	return nil
}

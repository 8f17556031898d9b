package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/zelara-ai/zelara-plant/internal/imagenorm"
	"github.com/zelara-ai/zelara-plant/internal/kindwise"
	"github.com/zelara-ai/zelara-plant/internal/logging"
	"github.com/zelara-ai/zelara-plant/internal/repository"
)

// RecordStore defines the persistence operations needed by the use case.
type RecordStore interface {
	Create(ctx context.Context) (string, error)
	Complete(ctx context.Context, id string, result *kindwise.Result) error
	Fail(ctx context.Context, id, message string) error
	Get(ctx context.Context, id string) (*repository.IdentificationRecord, error)
	List(ctx context.Context) ([]repository.IdentificationRecord, error)
}

// IdentificationUseCase coordinates the asynchronous identification flow:
// record creation, image normalization, the provider call, and the single
// terminal record mutation.
type IdentificationUseCase struct {
	store           RecordStore
	cache           Cache
	classifier      kindwise.Client
	logger          *zap.Logger
	classifyTimeout time.Duration
	retryAttempts   int
	initialBackoff  time.Duration
	maxBackoff      time.Duration
	cacheTTL        time.Duration
}

// NewIdentificationUseCase constructs a new use case instance.
func NewIdentificationUseCase(store RecordStore, cache Cache, classifier kindwise.Client, logger *zap.Logger) *IdentificationUseCase {
	return &IdentificationUseCase{
		store:           store,
		cache:           cache,
		classifier:      classifier,
		logger:          logger.Named("identification_usecase"),
		classifyTimeout: time.Minute,
		retryAttempts:   3,
		initialBackoff:  50 * time.Millisecond,
		maxBackoff:      time.Second,
		cacheTTL:        5 * time.Minute,
	}
}

// Submit creates a Processing record and schedules the identification work.
// It returns the new record id without waiting for normalization or
// classification; the background unit of work always ends in exactly one
// terminal record mutation.
func (uc *IdentificationUseCase) Submit(ctx context.Context, image []byte, apiKey string) (string, error) {
	id, err := uc.store.Create(ctx)
	if err != nil {
		return "", logging.NewOperationError("usecase.create_record", "", err)
	}

	// The unit of work outlives the submitting request.
	taskCtx := context.WithoutCancel(ctx)
	go uc.process(taskCtx, id, image, apiKey)

	return id, nil
}

// process is the background unit of work. Every exit path performs exactly
// one terminal mutation on the record; failures never propagate to the
// scheduler.
func (uc *IdentificationUseCase) process(ctx context.Context, id string, image []byte, apiKey string) {
	opLogger := logging.WithOperation(uc.logger, "usecase.identify", id)
	defer func() {
		if r := recover(); r != nil {
			opLogger.Error("identification task panicked", zap.Any("panic", r))
			uc.markFailed(ctx, id, fmt.Sprintf("internal error: %v", r))
		}
	}()

	normalized, err := imagenorm.Normalize(image)
	if err != nil {
		opLogger.Info("image rejected", zap.Error(err))
		uc.markFailed(ctx, id, err.Error())
		return
	}

	classifyCtx, cancel := context.WithTimeout(ctx, uc.classifyTimeout)
	result, err := uc.classifier.Identify(classifyCtx, apiKey, normalized)
	cancel()
	if err != nil {
		opLogger.Error("classification failed", zap.Error(err))
		uc.markFailed(ctx, id, err.Error())
		return
	}

	if err := uc.store.Complete(ctx, id, result); err != nil {
		opLogger.Error("failed to complete record",
			zap.Error(logging.NewOperationError("usecase.complete_record", id, err)))
		return
	}

	uc.cacheRecord(ctx, id, &repository.IdentificationRecord{
		ID:     id,
		Status: repository.StatusCompleted,
		Result: result,
	})
}

// markFailed records the terminal Error state. A store failure here cannot
// be recovered into a record mutation, so it is only logged.
func (uc *IdentificationUseCase) markFailed(ctx context.Context, id, message string) {
	if err := uc.store.Fail(ctx, id, message); err != nil {
		logging.WithOperation(uc.logger, "usecase.fail_record", id).
			Error("failed to mark record as errored", zap.Error(err))
		return
	}

	uc.cacheRecord(ctx, id, &repository.IdentificationRecord{
		ID:           id,
		Status:       repository.StatusError,
		ErrorMessage: message,
	})
}

// GetIdentification retrieves one record, cache-first. Cache failures
// degrade to a repository read; the store remains the source of truth.
func (uc *IdentificationUseCase) GetIdentification(ctx context.Context, id string) (*repository.IdentificationRecord, error) {
	cacheKey := recordCacheKey(id)
	if cached, err := uc.withRedisGet(ctx, id, "cache.get.record", cacheKey); err == nil {
		var record repository.IdentificationRecord
		if err := json.Unmarshal([]byte(cached), &record); err != nil {
			logging.WithOperation(uc.logger, "usecase.get_identification", id).
				Warn("failed to decode cached record", zap.Error(err))
		} else {
			return &record, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		logging.WithOperation(uc.logger, "usecase.get_identification", id).
			Warn("failed to read cache", zap.Error(err))
	}

	record, err := uc.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if record.Status != repository.StatusProcessing {
		uc.cacheRecord(ctx, id, record)
	}
	return record, nil
}

// ListIdentifications retrieves all records from the store.
func (uc *IdentificationUseCase) ListIdentifications(ctx context.Context) ([]repository.IdentificationRecord, error) {
	return uc.store.List(ctx)
}

// cacheRecord caches a terminal record. Only terminal records are cached;
// Processing is a moving target.
func (uc *IdentificationUseCase) cacheRecord(ctx context.Context, id string, record *repository.IdentificationRecord) {
	serialized, err := json.Marshal(record)
	if err != nil {
		logging.WithOperation(uc.logger, "cache.set.record", id).
			Warn("failed to serialize record for cache", zap.Error(err))
		return
	}

	if err := uc.withRedisRetry(ctx, id, "cache.set.record", func() error {
		return uc.cache.Set(ctx, recordCacheKey(id), string(serialized), uc.cacheTTL)
	}); err != nil {
		logging.WithOperation(uc.logger, "cache.set.record", id).
			Warn("failed to cache record", zap.Error(err))
	}
}

func recordCacheKey(id string) string {
	return fmt.Sprintf("identification:%s", id)
}

func (uc *IdentificationUseCase) withRedisRetry(ctx context.Context, recordID, operation string, fn func() error) error {
	if uc.retryAttempts <= 1 {
		err := fn()
		return logging.NewOperationError(operation, recordID, err)
	}

	backoff := uc.initialBackoff
	opLogger := logging.WithOperation(uc.logger, operation, recordID)
	var err error
	for attempt := 0; attempt < uc.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, recordID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= uc.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !isTransientError(err) || attempt == uc.retryAttempts-1 {
			return logging.NewOperationError(operation, recordID, err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, recordID, err)
}

func (uc *IdentificationUseCase) withRedisGet(ctx context.Context, recordID, operation, cacheKey string) (string, error) {
	var result string
	err := uc.withRedisRetry(ctx, recordID, operation, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}

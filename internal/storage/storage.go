// Package storage keeps recovery snapshots of the memory document.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/vmorsell/headsetd/pkg/model"
	"go.uber.org/zap"
)

const (
	BackendFile     = "file"
	BackendDynamoDB = "dynamodb"
)

var (
	// ErrItemNotFound is returned when no snapshot has been written yet.
	ErrItemNotFound = errors.New("item not found")
	// ErrUnknownBackend is returned for an unsupported backend name.
	ErrUnknownBackend = errors.New("unknown storage backend")
)

type Storage interface {
	Load(ctx context.Context) (model.Memory, error)
	Save(ctx context.Context, mem model.Memory) error
}

type Options struct {
	Backend        string
	File           string
	DynamoDBTable  string
	DynamoDBRegion string
}

// Open returns the backend named by opts.Backend.
func Open(ctx context.Context, logger *zap.Logger, opts Options) (Storage, error) {
	switch opts.Backend {
	case BackendFile, "":
		return NewFileStorage(opts.File), nil
	case BackendDynamoDB:
		return OpenDynamoStorage(ctx, logger, opts.DynamoDBTable, opts.DynamoDBRegion)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}
}

// LoadOrDefault loads the snapshot, falling back to the default memory
// document when none can be read.
func LoadOrDefault(ctx context.Context, logger *zap.Logger, s Storage) model.Memory {
	mem, err := s.Load(ctx)
	switch {
	case err == nil:
		logger.Info("restored state", zap.String("device", mem.CurrentDevice), zap.Int("profiles", len(mem.Profiles)))
		return mem
	case errors.Is(err, ErrItemNotFound):
		logger.Info("no saved state, starting fresh")
	default:
		logger.Error("failed to load saved state, starting fresh", zap.Error(err))
	}
	return model.DefaultMemory()
}

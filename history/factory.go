package history

import (
	"fmt"

	"go.uber.org/zap"
)

// New creates a run store for the configured backend.
func New(config Config, logger *zap.Logger) (Store, error) {
	switch config.Type {
	case StoreTypeMemory, "":
		return NewMemoryStore(config), nil
	case StoreTypeFile:
		return NewFileStore(config)
	case StoreTypeRedis:
		return NewRedisStore(config)
	case StoreTypeSQL:
		return NewSQLStore(config, logger)
	default:
		return nil, fmt.Errorf("unsupported history store type: %s", config.Type)
	}
}

// MustNew creates a run store or panics on error. Use only during
// application initialization.
func MustNew(config Config, logger *zap.Logger) Store {
	store, err := New(config, logger)
	if err != nil {
		panic(fmt.Sprintf("failed to create history store: %v", err))
	}
	return store
}

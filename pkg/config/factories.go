package config

import (
	"context"
	"fmt"

	"github.com/marmos91/dittolog/internal/logger"
	"github.com/marmos91/dittolog/pkg/metrics"
	"github.com/marmos91/dittolog/pkg/store"
	storeBadger "github.com/marmos91/dittolog/pkg/store/badger"
	storeFile "github.com/marmos91/dittolog/pkg/store/file"
	storeMemory "github.com/marmos91/dittolog/pkg/store/memory"
	"github.com/mitchellh/mapstructure"
)

// CreateStore creates the shared store described by cfg.
//
// The Type field selects the backend. Its option map is decoded with
// mapstructure into the backend's own Config and validated before the
// backend is opened.
//
// Supported types:
//   - "file": pkg/store/file (a single truncated file, the default)
//   - "memory": pkg/store/memory (nothing persisted)
//   - "badger": pkg/store/badger (one key per record)
//
// storeMetrics may be nil.
func CreateStore(ctx context.Context, cfg *StoreConfig, storeMetrics metrics.StoreMetrics) (*store.Log, error) {
	backend, err := createBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}

	opts := []store.Option{store.WithMaxEchoBuffer(cfg.MaxEchoBuffer)}
	if storeMetrics != nil {
		opts = append(opts, store.WithMetrics(storeMetrics))
	}

	return store.NewLog(backend, opts...), nil
}

func createBackend(ctx context.Context, cfg *StoreConfig) (store.Backend, error) {
	switch cfg.Type {
	case "file":
		fileCfg, err := decodeFileConfig(cfg.File)
		if err != nil {
			return nil, err
		}
		logger.Debug("Creating file store at %s (fsync=%v)", fileCfg.Path, fileCfg.Fsync)
		return storeFile.New(ctx, fileCfg)

	case "memory":
		logger.Debug("Creating memory store")
		return storeMemory.New(), nil

	case "badger":
		badgerCfg, err := decodeBadgerConfig(cfg.Badger)
		if err != nil {
			return nil, err
		}
		logger.Debug("Creating badger store at %s (in_memory=%v)", badgerCfg.Path, badgerCfg.InMemory)
		return storeBadger.New(ctx, badgerCfg)

	default:
		return nil, fmt.Errorf("unknown store type: %q", cfg.Type)
	}
}

func decodeFileConfig(options map[string]any) (storeFile.Config, error) {
	var cfg storeFile.Config
	if err := decodeOptions(options, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to decode file store config: %w", err)
	}
	if err := validate.Struct(&cfg); err != nil {
		return cfg, fmt.Errorf("invalid file store config: %w", formatValidationError(err))
	}
	return cfg, nil
}

func decodeBadgerConfig(options map[string]any) (storeBadger.Config, error) {
	var cfg storeBadger.Config
	if err := decodeOptions(options, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to decode badger store config: %w", err)
	}
	if err := validate.Struct(&cfg); err != nil {
		return cfg, fmt.Errorf("invalid badger store config: %w", formatValidationError(err))
	}
	return cfg, nil
}

// decodeOptions decodes a type-specific option map. Values coming from the
// environment are strings, so input is weakly typed.
func decodeOptions(options map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return err
	}
	return decoder.Decode(options)
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ppiankov/receiptguard/internal/cache"
	"github.com/ppiankov/receiptguard/internal/corpus"
	"github.com/ppiankov/receiptguard/internal/llm"
	"github.com/ppiankov/receiptguard/internal/lock"
	"github.com/ppiankov/receiptguard/internal/logging"
	"github.com/ppiankov/receiptguard/internal/metrics"
	"github.com/ppiankov/receiptguard/internal/model"
	"github.com/ppiankov/receiptguard/internal/pipeline"
	"github.com/ppiankov/receiptguard/internal/receiptstore"
	"github.com/ppiankov/receiptguard/internal/validate"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// app is everything a command needs, built once from config
type app struct {
	cfg       model.Config
	corpus    corpus.Store
	fetcher   *receiptstore.Router
	prints    *cache.FingerprintCache
	locker    lock.Locker
	validator validate.Validator
	pipeline  *pipeline.Pipeline

	redis *redis.Client
}

// buildRuntime opens the corpus and connects every configured backend.
// record=false gives a dry-run pipeline.
func buildRuntime(ctx context.Context, cfg model.Config, record bool) (*app, error) {
	rt := &app{cfg: cfg}

	store, err := openCorpus(ctx, cfg.Corpus)
	if err != nil {
		return nil, err
	}
	rt.corpus = store

	rt.fetcher, err = newRouter(ctx, cfg.Store)
	if err != nil {
		rt.Close()
		return nil, err
	}

	if cfg.Cache.Enabled {
		rt.prints = cache.NewFingerprintCache(cache.NewLayeredCache(cfg.Cache.TTL, cfg.Cache.Dir), cfg.Cache.TTL)
	}

	switch cfg.Lock.Backend {
	case "redis":
		client, err := lock.DialRedis(ctx, cfg.Lock.RedisAddr)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.redis = client
		rt.locker = lock.NewRedisLocker(client, cfg.Lock.TTL)
	default:
		rt.locker = lock.NewLocalLocker()
	}

	rt.validator, err = newValidator(cfg.Validator)
	if err != nil {
		rt.Close()
		return nil, err
	}

	rt.pipeline = pipeline.NewPipeline(&rt.cfg, pipeline.Deps{
		Corpus:    rt.corpus,
		Fetcher:   rt.fetcher,
		Prints:    rt.prints,
		Locker:    rt.locker,
		Validator: rt.validator,
	}, pipeline.Options{Record: record})

	if n, err := rt.corpus.Count(ctx); err == nil {
		metrics.SetCorpusEntries(n)
		logging.Debug("Corpus opened", zap.String("driver", cfg.Corpus.Driver), zap.Int("entries", n))
	}
	return rt, nil
}

func openCorpus(ctx context.Context, cfg model.CorpusConfig) (corpus.Store, error) {
	if cfg.Driver == "" || cfg.Driver == "memory" {
		logging.Warn("Using in-memory corpus; submissions are forgotten on exit")
		return corpus.NewMemoryStore(), nil
	}
	store, err := corpus.OpenSQLStore(ctx, cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open corpus: %w", err)
	}
	return store, nil
}

func newRouter(ctx context.Context, cfg model.StoreConfig) (*receiptstore.Router, error) {
	r := &receiptstore.Router{Local: receiptstore.NewLocalStore(cfg.LocalDir)}
	if cfg.HTTPEnabled {
		r.HTTP = receiptstore.NewHTTPStore(&http.Client{}, 30*time.Second, "receiptguard/"+version, cfg.AllowedHosts)
		logging.Info("HTTP receipt store enabled", zap.Strings("allowed_hosts", cfg.AllowedHosts))
	}
	if cfg.Region != "" || cfg.Endpoint != "" {
		s3Store, err := receiptstore.NewS3Store(ctx, receiptstore.S3Config{
			Region:   cfg.Region,
			Endpoint: cfg.Endpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 store: %w", err)
		}
		r.S3 = s3Store
	}
	return r, nil
}

// newValidator returns nil when validation is disabled
func newValidator(cfg model.ValidatorConfig) (validate.Validator, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	provider, err := llm.NewProvider(llm.ConfigFromModel(cfg))
	if err != nil {
		return nil, fmt.Errorf("content validator: %w", err)
	}
	if provider == nil {
		return nil, errors.New("content validator enabled but no provider configured")
	}

	limiter := validate.NewLimiter(cfg.RatePerSecond, cfg.Burst)
	return validate.NewResilient(validate.NewLLMValidator(provider), provider.Name(), cfg, limiter), nil
}

// health reports the corpus size, and fails when redis is unreachable
func (rt *app) health(ctx context.Context) (int, error) {
	if rt.redis != nil {
		if err := rt.redis.Ping(ctx).Err(); err != nil {
			return 0, fmt.Errorf("redis: %w", err)
		}
	}
	n, err := rt.corpus.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("corpus: %w", err)
	}
	metrics.SetCorpusEntries(n)
	return n, nil
}

// Close releases the corpus and redis connections
func (rt *app) Close() {
	if rt.corpus != nil {
		if err := rt.corpus.Close(); err != nil {
			logging.Warn("Failed to close corpus", zap.Error(err))
		}
	}
	if rt.redis != nil {
		_ = rt.redis.Close()
	}
}

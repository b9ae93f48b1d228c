package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/covercraft/covercraft-backend/pkg/config"
	"github.com/covercraft/covercraft-backend/pkg/logger"
)

const heartbeatInterval = 30 * time.Second

type dependency interface {
	Ping(context.Context) error
}

type closer interface {
	Close() error
}

type consumer interface {
	Run(context.Context) error
}

type ServiceParams struct {
	Config *config.Config
	Logger *logger.Logger
	DB     dependency
	Redis  dependency
	PubSub dependency
	// AutoFulfill is nil when the feature flag is off; the worker then idles.
	AutoFulfill consumer
	Closers     []closer
}

type Service struct {
	cfg         *config.Config
	logg        *logger.Logger
	db          dependency
	redis       dependency
	pubsub      dependency
	autoFulfill consumer
	closers     []closer
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Config == nil {
		return nil, errors.New("config is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	if params.PubSub == nil {
		return nil, errors.New("pubsub client is required")
	}
	if params.Config.FeatureFlags.AutoFulfill && params.AutoFulfill == nil {
		return nil, errors.New("auto-fulfill consumer is required when the flag is on")
	}

	return &Service{
		cfg:         params.Config,
		logg:        params.Logger,
		db:          params.DB,
		redis:       params.Redis,
		pubsub:      params.PubSub,
		autoFulfill: params.AutoFulfill,
		closers:     params.Closers,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	if err := pingDependency(ctx, s.logg, "database", s.db.Ping); err != nil {
		return err
	}
	if err := pingDependency(ctx, s.logg, "redis", s.redis.Ping); err != nil {
		return err
	}
	if err := pingDependency(ctx, s.logg, "pubsub", s.pubsub.Ping); err != nil {
		return err
	}
	s.logg.Info(ctx, "all worker dependencies are ready")
	return nil
}

func pingDependency(ctx context.Context, logg *logger.Logger, name string, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
		return fmt.Errorf("%s ping failed: %w", name, err)
	}
	return nil
}

func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	if s.autoFulfill != nil {
		go func() {
			errCh <- s.autoFulfill.Run(ctx)
		}()
	} else {
		s.logg.Info(ctx, "auto fulfillment disabled, worker idle")
	}

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "worker context canceled")
			return ctx.Err()
		case err := <-errCh:
			if err != nil && !errors.Is(err, context.Canceled) {
				s.logg.Error(ctx, "auto-fulfill consumer stopped unexpectedly", err)
				return err
			}
			return err
		case <-ticker.C:
			s.logg.Debug(ctx, "worker heartbeat")
		}
	}
}

// Close releases every client and reports all failures together.
func (s *Service) Close() error {
	var errs error
	for _, c := range s.closers {
		if c == nil {
			continue
		}
		errs = multierr.Append(errs, c.Close())
	}
	return errs
}

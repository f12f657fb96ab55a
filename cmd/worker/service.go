package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/orderflow-backend/pkg/logger"
)

type pinger interface {
	Ping(ctx context.Context) error
}

type runner interface {
	Run(ctx context.Context) error
}

type dependency struct {
	name   string
	pinger pinger
}

type ServiceParams struct {
	Logger       *logger.Logger
	Dependencies []dependency
	Orchestrator runner
	// Analytics flushes buffered warehouse rows. It is optional.
	Analytics runner
}

// Service runs the job orchestrator next to the analytics flush loop and
// stops both when either exits.
type Service struct {
	logg         *logger.Logger
	deps         []dependency
	orchestrator runner
	analytics    runner
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.Orchestrator == nil {
		return nil, errors.New("job orchestrator is required")
	}
	for _, dep := range params.Dependencies {
		if dep.pinger == nil {
			return nil, fmt.Errorf("%s client is required", dep.name)
		}
	}
	return &Service{
		logg:         params.Logger,
		deps:         params.Dependencies,
		orchestrator: params.Orchestrator,
		analytics:    params.Analytics,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	var errs error
	for _, dep := range s.deps {
		if err := dep.pinger.Ping(ctx); err != nil {
			s.logg.Error(ctx, fmt.Sprintf("%s ping failed", dep.name), err)
			errs = multierr.Append(errs, fmt.Errorf("%s ping failed: %w", dep.name, err))
		}
	}
	if errs != nil {
		return errs
	}
	s.logg.Info(ctx, "all worker dependencies are ready")
	return nil
}

func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return stopped(s.orchestrator.Run(groupCtx))
	})
	if s.analytics != nil {
		group.Go(func() error {
			return stopped(s.analytics.Run(groupCtx))
		})
	}
	if err := group.Wait(); err != nil {
		s.logg.Error(ctx, "worker stopped unexpectedly", err)
		return err
	}
	s.logg.Info(ctx, "worker context canceled")
	return ctx.Err()
}

// stopped drops cancellation so only real failures tear the group down.
func stopped(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

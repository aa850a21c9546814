package zedlink

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger"
	"github.com/zedlink/zedlink/internal/configsvc"
	"github.com/zedlink/zedlink/internal/dispatchsvc"
	"github.com/zedlink/zedlink/internal/injectsvc"
	"github.com/zedlink/zedlink/internal/peersvc"
	"github.com/zedlink/zedlink/internal/screens"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Server is the controlled side: it accepts one client at a time and applies
// the streamed input to the local cursor.
type Server struct {
	log  *zap.Logger
	opts Options
	cfg  ServerConfig

	db          *badger.DB
	configSvc   *configsvc.Service
	peerSvc     *peersvc.Service
	dispatchSvc *dispatchsvc.Service
}

func NewServer(opts Options) (*Server, error) {
	fileConfig, err := configsvc.LoadInit(opts.ConfigFile, DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := newLogger(fileConfig.Server.Debug)
	if err != nil {
		return nil, err
	}
	cfg := fileConfig.Normalize(logger.Named("config")).Server

	width, height, err := screens.Resolve(logger.Named("screens"), cfg.ScreenWidth, cfg.ScreenHeight)
	if err != nil {
		return nil, err
	}

	var backend injectsvc.Backend
	if opts.DryRun {
		logger.Info("Dry run: injected events will be logged, not applied")
		backend = injectsvc.NewNoop(logger.Named("inject"))
	} else {
		backend = injectsvc.NewRobotgo(logger.Named("inject"))
	}

	db := openStateDB(logger, filepath.Join(opts.StateDir, "server"))
	configSvc := configsvc.New(logger.Named("config"))
	peerSvc := peersvc.New(logger.Named("peers"), db, time.Now)
	dispatchSvc := dispatchsvc.New(logger.Named("dispatch"), dispatchsvc.Config{
		ListenAddress: cfg.ListenAddress(),
		ScreenWidth:   width,
		ScreenHeight:  height,
		Sensitivity:   cfg.MouseSensitivity,
	}, backend, peerSvc)

	return &Server{
		log:         logger,
		opts:        opts,
		cfg:         cfg,
		db:          db,
		configSvc:   configSvc,
		peerSvc:     peerSvc,
		dispatchSvc: dispatchSvc,
	}, nil
}

// Run starts the listener and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return s.configSvc.Start(groupCtx)
	})
	group.Go(func() error {
		return s.dispatchSvc.Start(groupCtx)
	})
	group.Go(func() error {
		return s.watchConfig(groupCtx)
	})

	if err := group.Wait(); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

func (s *Server) watchConfig(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case <-s.configSvc.Ready():
	}
	_, err := configsvc.RegisterInit(s.configSvc, s.opts.ConfigFile, DefaultConfig(), func(fileConfig Config, err error) {
		if err != nil {
			s.log.Warn("Config reload failed, keeping last valid configuration", zap.Error(err))
			return
		}
		cfg := fileConfig.Normalize(s.log.Named("config")).Server
		s.dispatchSvc.ApplyConfig(dispatchsvc.Config{Sensitivity: cfg.MouseSensitivity})
		s.cfg = cfg
	})
	if err != nil {
		return fmt.Errorf("failed to watch config: %w", err)
	}
	return nil
}

// Addr reports the bound listen address once the dispatcher is ready.
func (s *Server) Addr() string {
	return s.dispatchSvc.Addr()
}

// Ready is closed once the listener is accepting connections.
func (s *Server) Ready() <-chan struct{} {
	return s.dispatchSvc.Ready()
}

func (s *Server) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

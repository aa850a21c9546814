package zedlink

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"time"

	"github.com/dgraph-io/badger"
	"github.com/zedlink/zedlink/internal/capturesvc"
	"github.com/zedlink/zedlink/internal/configsvc"
	"github.com/zedlink/zedlink/internal/edgesvc"
	"github.com/zedlink/zedlink/internal/linksvc"
	"github.com/zedlink/zedlink/internal/peersvc"
	"github.com/zedlink/zedlink/internal/screens"
	"github.com/zedlink/zedlink/pkg/bus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Client is the controlling side: it watches the local pointer for edge
// dwell, then streams captured input to a server until the escape hotkey or
// a connection loss hands control back.
type Client struct {
	log    *zap.Logger
	opts   Options
	cfg    ClientConfig
	width  int
	height int

	db         *badger.DB
	configSvc  *configsvc.Service
	captureSvc *capturesvc.Service
	monitor    *edgesvc.Monitor
	peerSvc    *peersvc.Service
	linkSvc    *linksvc.Service
	statusBus  *bus.Bus[linksvc.StatusKind, linksvc.Status]
}

func NewClient(opts Options) (*Client, error) {
	fileConfig, err := configsvc.LoadInit(opts.ConfigFile, DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := newLogger(fileConfig.Client.Debug)
	if err != nil {
		return nil, err
	}
	cfg := fileConfig.Normalize(logger.Named("config")).Client

	width, height, err := screens.Resolve(logger.Named("screens"), cfg.ScreenWidth, cfg.ScreenHeight)
	if err != nil {
		return nil, err
	}

	db := openStateDB(logger, filepath.Join(opts.StateDir, "client"))
	configSvc := configsvc.New(logger.Named("config"))
	captureSvc := capturesvc.New(logger.Named("capture"), capturesvc.NewHookBackend(logger.Named("capture.hook")))
	monitor := edgesvc.New(logger.Named("edge"), width, height, edgesvc.Config{
		Edge:      cfg.Edge(),
		Delay:     cfg.Delay(),
		Threshold: cfg.EdgeThreshold,
	})
	peerSvc := peersvc.New(logger.Named("peers"), db, time.Now)

	statusBus := bus.New[linksvc.StatusKind, linksvc.Status](logger.Named("status"))
	linkSvc := linksvc.New(logger.Named("link"), linkConfig(cfg, width, height), captureSvc, monitor, peerSvc,
		func(st linksvc.Status) {
			statusBus.TryPublish(st.Kind, st)
		})

	return &Client{
		log:        logger,
		opts:       opts,
		cfg:        cfg,
		width:      width,
		height:     height,
		db:         db,
		configSvc:  configSvc,
		captureSvc: captureSvc,
		monitor:    monitor,
		peerSvc:    peerSvc,
		linkSvc:    linkSvc,
		statusBus:  statusBus,
	}, nil
}

func linkConfig(cfg ClientConfig, width, height int) linksvc.Config {
	return linksvc.Config{
		ServerAddress:  cfg.ServerAddress(),
		ConnectTimeout: cfg.Timeout(),
		AutoReconnect:  cfg.AutoReconnect,
		EscapeCode:     cfg.EscapeCode(),
		ScreenWidth:    width,
		ScreenHeight:   height,
		ScanPort:       cfg.ServerPort,
		ScanTimeout:    cfg.Timeout(),
		ClientInfo: map[string]any{
			"client":  "zedlink",
			"version": Version,
			"os":      runtime.GOOS,
		},
	}
}

// Run starts all client services and blocks until the context is cancelled.
// Startup fails when input capture or screen detection is unavailable; a
// configuration that becomes invalid later is normalized with warnings and
// never stops a running client.
func (c *Client) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return c.configSvc.Start(groupCtx)
	})
	group.Go(func() error {
		return c.captureSvc.Start(groupCtx)
	})
	group.Go(func() error {
		return c.monitor.Start(groupCtx)
	})
	group.Go(func() error {
		return c.linkSvc.Start(groupCtx)
	})
	group.Go(func() error {
		return c.watchConfig(groupCtx)
	})
	group.Go(func() error {
		c.logStatuses(groupCtx)
		return nil
	})

	if err := group.Wait(); err != nil {
		return fmt.Errorf("client failed: %w", err)
	}
	return nil
}

// watchConfig registers for reloads once the watcher runs and applies each
// valid reload to the running services.
func (c *Client) watchConfig(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case <-c.configSvc.Ready():
	}
	_, err := configsvc.RegisterInit(c.configSvc, c.opts.ConfigFile, DefaultConfig(), func(fileConfig Config, err error) {
		if err != nil {
			c.log.Warn("Config reload failed, keeping last valid configuration", zap.Error(err))
			return
		}
		c.applyConfig(fileConfig.Normalize(c.log.Named("config")).Client)
	})
	if err != nil {
		return fmt.Errorf("failed to watch config: %w", err)
	}
	return nil
}

func (c *Client) applyConfig(cfg ClientConfig) {
	c.monitor.SetEdge(cfg.Edge())
	c.monitor.SetDelay(cfg.Delay())
	c.monitor.SetThreshold(cfg.EdgeThreshold)
	c.linkSvc.ApplyConfig(linkConfig(cfg, c.width, c.height))
	c.cfg = cfg
}

func (c *Client) logStatuses(ctx context.Context) {
	for st := range c.statusBus.Subscribe(ctx) {
		switch st.Value.Kind {
		case linksvc.StatusNoServerFound:
			c.log.Warn("No server found", zap.String("reason", st.Value.Reason))
		case linksvc.StatusSessionLost:
			c.log.Warn("Session lost", zap.String("peer", st.Value.Peer))
		default:
			c.log.Info("Link status", zap.Stringer("kind", st.Value.Kind), zap.String("peer", st.Value.Peer))
		}
	}
}

// Statuses exposes link lifecycle signals for external observers.
func (c *Client) Statuses(ctx context.Context) <-chan bus.Message[linksvc.StatusKind, linksvc.Status] {
	return c.statusBus.Subscribe(ctx)
}

// Peers returns the peer registry.
func (c *Client) Peers() *peersvc.Service {
	return c.peerSvc
}

func (c *Client) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

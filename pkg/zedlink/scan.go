package zedlink

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/zedlink/zedlink/internal/configsvc"
	"github.com/zedlink/zedlink/internal/peersvc"
)

// Scan probes the local network for listening servers on the configured port.
// Responders are recorded in the client's peer registry, so a later client
// run can fall back to them without scanning again.
func Scan(ctx context.Context, opts Options, timeout time.Duration) ([]peersvc.Peer, error) {
	fileConfig, err := configsvc.LoadInit(opts.ConfigFile, DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := newLogger(fileConfig.Client.Debug)
	if err != nil {
		return nil, err
	}
	cfg := fileConfig.Normalize(logger.Named("config")).Client

	db := openStateDB(logger, filepath.Join(opts.StateDir, "client"))
	if db != nil {
		defer db.Close()
	}
	peerSvc := peersvc.New(logger.Named("peers"), db, time.Now)
	return peerSvc.Scan(ctx, cfg.ServerPort, timeout)
}

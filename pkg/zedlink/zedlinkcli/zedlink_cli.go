package zedlinkcli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/zedlink/zedlink/pkg/zedlink"
)

func Main(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) error {
	dir, err := os.UserConfigDir()
	if err != nil {
		return err
	}
	cmd := NewRootCmd(filepath.Join(dir, "zedlink"))
	cmd.SetArgs(args)
	cmd.SetIn(in)
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	return cmd.ExecuteContext(ctx)
}

func NewRootCmd(configDir string) *cobra.Command {
	opts := zedlink.Options{
		ConfigFile: filepath.Join(configDir, "config.yml"),
		StateDir:   filepath.Join(configDir, "state"),
	}
	rootCmd := &cobra.Command{
		Use:   "zedlink",
		Short: "ZedLink",
		Long:  `ZedLink shares this machine's mouse and keyboard with another machine on the local network.`,
	}
	rootCmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", opts.ConfigFile, "config file")
	rootCmd.PersistentFlags().StringVar(&opts.StateDir, "state-dir", opts.StateDir, "state directory")
	rootCmd.AddCommand(NewClient(&opts))
	rootCmd.AddCommand(NewServer(&opts))
	rootCmd.AddCommand(NewScan(&opts))
	rootCmd.AddCommand(NewVersion())
	return rootCmd
}

func NewClient(opts *zedlink.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "client",
		Short: "Run the controlling side",
		Long:  `Watches the local pointer for edge dwell and streams captured input to a server while remote control is active.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := zedlink.NewClient(*opts)
			if err != nil {
				return err
			}
			defer client.Close()
			return client.Run(cmd.Context())
		},
	}
}

func NewServer(opts *zedlink.Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the controlled side",
		Long:  `Accepts one client at a time and applies the streamed input to the local cursor.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			server, err := zedlink.NewServer(*opts)
			if err != nil {
				return err
			}
			defer server.Close()
			return server.Run(cmd.Context())
		},
	}
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "log injected events instead of applying them")
	return cmd
}

func NewScan(opts *zedlink.Options) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan the local network for servers",
		Long:  `Probes the local networks for listening servers and records responders in the peer registry.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			peers, err := zedlink.Scan(cmd.Context(), *opts, timeout)
			if err != nil {
				return err
			}
			jsonB, err := json.MarshalIndent(peers, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(jsonB))
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "total scan timeout")
	return cmd
}

func NewVersion() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), zedlink.Version)
			return nil
		},
	}
}

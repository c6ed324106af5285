// Package deckcli is the command-line surface of controldeck.
package deckcli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/controldeck/controldeck/pkg/deck"
	"github.com/spf13/cobra"
)

func Main(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) error {
	dir, err := os.UserConfigDir()
	if err != nil {
		return err
	}
	cmd := NewRootCmd(filepath.Join(dir, "controldeck"))
	cmd.SetArgs(args)
	cmd.SetIn(in)
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	return cmd.ExecuteContext(ctx)
}

func NewRootCmd(configDir string) *cobra.Command {
	cfg := deck.Config{
		DataDir:     filepath.Join(configDir, "data"),
		HostConfig:  filepath.Join(configDir, "host.yml"),
		RelayConfig: filepath.Join(configDir, "relay.yml"),
	}
	rootCmd := &cobra.Command{
		Use:   "controldeck",
		Short: "Control surface event bridge",
		Long:  `controldeck reads USB dial pads, keypads and MIDI controllers and relays their events to consumers over websockets and a shared state file.`,
	}
	rootCmd.PersistentFlags().StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "data directory")
	rootCmd.PersistentFlags().StringVar(&cfg.HostConfig, "host-config", cfg.HostConfig, "host config file")
	rootCmd.PersistentFlags().StringVar(&cfg.RelayConfig, "relay-config", cfg.RelayConfig, "relay config file")
	rootCmd.AddCommand(NewHost(&cfg))
	rootCmd.AddCommand(NewRelay(&cfg))
	rootCmd.AddCommand(NewListDevices(&cfg))
	return rootCmd
}

func NewHost(cfg *deck.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "host",
		Short: "Run the device host",
		Long:  `Read the connected control surfaces and forward their events to the relay.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := deck.NewHost(*cfg)
			if err != nil {
				return err
			}
			defer h.Close()
			return h.Run(cmd.Context())
		},
	}
}

func NewRelay(cfg *deck.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "relay",
		Short: "Run the relay server",
		Long:  `Accept bridge connections, aggregate controller state and serve it to viewers and polling consumers.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := deck.NewRelay(*cfg)
			if err != nil {
				return err
			}
			return r.Run(cmd.Context())
		},
	}
}

func NewListDevices(cfg *deck.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "list-devices",
		Short: "List known control surfaces",
		Long:  `List every control surface recorded in the device registry.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := deck.NewHost(*cfg)
			if err != nil {
				return err
			}
			defer h.Close()
			devices, err := h.ListDevices()
			if err != nil {
				return err
			}
			jsonB, err := json.MarshalIndent(devices, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(jsonB))
			return nil
		},
	}
}

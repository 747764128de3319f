// Command hypernet serves byte streams and pings peers over any configured
// transport.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/krallin/hyper-02/pkg/config"
	"github.com/krallin/hyper-02/pkg/observability"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// rootFlags are shared by every subcommand.
type rootFlags struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	var rf rootFlags
	root := &cobra.Command{
		Use:           "hypernet",
		Short:         "Serve and ping byte streams over tcp, mem, pipe or quic",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&rf.configPath, "config", "c", "", "Path to YAML config file")
	root.PersistentFlags().StringVar(&rf.logLevel, "log-level", "", "Override log.level")

	root.AddCommand(newServeCmd(&rf), newPingCmd(&rf))
	return root
}

// setup loads the configuration and installs the global logger. The caller
// must run the returned cleanup.
func setup(rf *rootFlags, override func(*config.Config)) (*config.Config, func(), error) {
	cfg, err := config.Load(rf.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if rf.logLevel != "" {
		cfg.Log.Level = rf.logLevel
	}
	if override != nil {
		override(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("setup logger: %w", err)
	}
	logger.Debug("effective configuration", zap.Any("config", cfg))
	return cfg, func() { _ = logger.Sync() }, nil
}

// transportFlags binds the flags overriding one TransportConfig.
type transportFlags struct {
	kind string
	host string
	port int
}

func (tf *transportFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&tf.kind, "transport", "t", "", "Transport kind: tcp, mem, pipe or quic")
	cmd.Flags().StringVarP(&tf.host, "host", "H", "", "Host, mem name or socket path")
	cmd.Flags().IntVarP(&tf.port, "port", "p", -1, "Port (0 picks one when serving)")
}

func (tf *transportFlags) apply(c *config.TransportConfig) error {
	if tf.kind != "" {
		c.Kind = tf.kind
	}
	if tf.host != "" {
		c.Host = tf.host
	}
	if tf.port >= 0 {
		if tf.port > 65535 {
			return fmt.Errorf("port %d out of range", tf.port)
		}
		c.Port = uint16(tf.port)
	}
	return nil
}

package main

import (
	"fmt"
	"io"
	"time"

	"streamrelay/internal/discovery"
	"streamrelay/internal/infrastructure/repositories/remote"
	wsignal "streamrelay/internal/infrastructure/signal"
	"streamrelay/internal/infrastructure/webrtc"
	"streamrelay/pkg/config"
	"streamrelay/pkg/logger"

	pionwebrtc "github.com/pion/webrtc/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type rootOptions struct {
	configPath  string
	relayURL    string
	registryURL string
	logLevel    string

	cfg    *config.Config
	logger *zap.SugaredLogger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "streamctl",
		Short: "Publish and watch streams through a streamrelay signaling server",
		Long: `streamctl runs a discovery node against a streamrelay server.

A publisher registers its network identity under a stable identity and waits
for viewers. A viewer resolves the stable identity, joins the same stream room
and negotiates a direct peer connection through the relay.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "configs/config.yaml", "path to the YAML config")
	flags.StringVar(&opts.relayURL, "relay", "", "signaling relay URL (overrides discovery.relay_url)")
	flags.StringVar(&opts.registryURL, "registry", "", "registry base URL (defaults to the relay's HTTP address)")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "log level")

	cmd.AddCommand(
		newPublishCmd(opts),
		newWatchCmd(opts),
		newRegisterCmd(opts),
		newLookupCmd(opts),
	)
	return cmd
}

func (o *rootOptions) load() error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	if o.relayURL != "" {
		cfg.Discovery.RelayURL = o.relayURL
	}
	if o.registryURL == "" {
		o.registryURL = cfg.Discovery.RelayURL
	}

	o.cfg = cfg
	o.logger = logger.New(o.logLevel, logger.FormatConsole).Sugar()
	return nil
}

func (o *rootOptions) registry() (*remote.HTTPPeerRegistry, error) {
	return remote.NewHTTPPeerRegistry(o.registryURL, o.cfg.Discovery.ConnectTimeout)
}

// newNode assembles a discovery node from the websocket transport, the
// remote registry and pion peer links.
func (o *rootOptions) newNode() (*discovery.Client, error) {
	registry, err := o.registry()
	if err != nil {
		return nil, err
	}

	linkCfg := webrtc.LinkConfig{}
	for _, s := range o.cfg.Discovery.ICEServers {
		linkCfg.ICEServers = append(linkCfg.ICEServers, pionwebrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	linkCfg.PortRange.Min = o.cfg.Discovery.PortRange.Min
	linkCfg.PortRange.Max = o.cfg.Discovery.PortRange.Max

	transport := wsignal.NewClient(o.cfg.Discovery.RelayURL).
		WithHandshakeTimeout(o.cfg.Discovery.ConnectTimeout)

	return discovery.NewClient(transport, registry, webrtc.NewLinkFactory(linkCfg), discovery.Options{
		DialTimeout: o.cfg.Discovery.DialTimeout,
	}, o.logger), nil
}

func statusPrinter(w io.Writer) func(string) {
	return func(status string) {
		fmt.Fprintf(w, "[%s] %s\n", time.Now().Format("15:04:05"), status)
	}
}

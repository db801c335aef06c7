package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	chshare "github.com/sammck-go/wsvnc/share"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

type globalOptions struct {
	logLevel chshare.LogLevel
}

func newRootCommand() *cobra.Command {
	g := &globalOptions{logLevel: chshare.LogLevelInfo}
	cmd := &cobra.Command{
		Use:           "wsvnc",
		Short:         "WebSocket to TCP tunnel for browser VNC clients",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().Var(&g.logLevel, "log-level", "log level (error, warning, info, debug, trace)")
	cmd.AddCommand(
		newServerCommand(g),
		newClientCommand(g),
		newHashPasswordCommand(),
		newVersionCommand(),
	)
	return cmd
}

// overlayConfigFile loads path into the config bound to flags, then re-applies
// every flag given on the command line so that flags win over the file
func overlayConfigFile(flags *pflag.FlagSet, path string, load func(string) error) error {
	given := map[string]string{}
	flags.Visit(func(f *pflag.Flag) {
		given[f.Name] = f.Value.String()
	})
	if err := load(path); err != nil {
		return err
	}
	for name, v := range given {
		if err := flags.Set(name, v); err != nil {
			return fmt.Errorf("flag --%s: %w", name, err)
		}
	}
	return nil
}

func newServerCommand(g *globalOptions) *cobra.Command {
	cfg := chshare.DefaultServerConfig()
	var configFile string
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Serve the noVNC client and tunnel WebSocket connections to a VNC server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if configFile != "" {
				if err := overlayConfigFile(cmd.Flags(), configFile, cfg.LoadConfigFile); err != nil {
					return err
				}
			}
			cfg.LogLevel = g.logLevel
			logger := chshare.NewLogger("", g.logLevel)
			s, err := chshare.NewServer(logger, cfg)
			if err != nil {
				return err
			}
			return ignoreCanceled(s.Run(cmd.Context()))
		},
	}
	f := cmd.Flags()
	f.StringVar(&configFile, "config", "", "JSON config file with Websockify and BasicAuth sections")
	f.StringVar(&cfg.Listen, "listen", cfg.Listen, "HTTP listen address")
	f.StringVar(&cfg.WebRoot, "web-root", cfg.WebRoot, "directory holding the noVNC client (vnc.html, vnc_lite.html, assets)")
	f.StringVar(&cfg.Websockify.Path, "path", cfg.Websockify.Path, "URL path of the WebSocket tunnel")
	f.StringVar(&cfg.Websockify.Host, "vnc-host", cfg.Websockify.Host, "VNC server host")
	f.IntVar(&cfg.Websockify.Port, "vnc-port", cfg.Websockify.Port, "VNC server port")
	f.IntVar(&cfg.Websockify.BufferSize, "buffer-size", cfg.Websockify.BufferSize, "transfer buffer size in bytes (below 1024 selects 65536)")
	f.BoolVar(&cfg.BasicAuth.Enabled, "auth", cfg.BasicAuth.Enabled, "require HTTP Basic authentication")
	f.StringVar(&cfg.BasicAuth.Username, "username", cfg.BasicAuth.Username, "Basic auth user name")
	f.StringVar(&cfg.BasicAuth.Password, "password", cfg.BasicAuth.Password, "Basic auth password or bcrypt hash")
	f.StringVar(&cfg.BasicAuth.AuthFile, "authfile", cfg.BasicAuth.AuthFile, "JSON file mapping user names to passwords or bcrypt hashes; reloaded on change")
	f.DurationVar(&cfg.DialTimeout, "dial-timeout", cfg.DialTimeout, "VNC server connect timeout")
	f.DurationVar(&cfg.CloseTimeout, "close-timeout", cfg.CloseTimeout, "bound on the WebSocket close handshake")
	f.DurationVar(&cfg.PageTTL, "page-ttl", cfg.PageTTL, "how long HTML pages stay cached")
	return cmd
}

func newClientCommand(g *globalOptions) *cobra.Command {
	cfg := chshare.DefaultClientConfig()
	cmd := &cobra.Command{
		Use:   "client <server-url>",
		Short: "Accept local VNC viewer connections and tunnel each to a wsvnc server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.Server = args[0]
			cfg.LogLevel = g.logLevel
			if cfg.Auth == "" {
				cfg.Auth = os.Getenv("WSVNC_AUTH")
			}
			logger := chshare.NewLogger("", g.logLevel)
			c, err := chshare.NewClient(logger, cfg)
			if err != nil {
				return err
			}
			return ignoreCanceled(c.Run(cmd.Context()))
		},
	}
	f := cmd.Flags()
	f.StringVar(&cfg.Listen, "listen", cfg.Listen, "local address VNC viewers connect to")
	f.StringVar(&cfg.Auth, "auth", "", "user:pass for the server's Basic auth (default $WSVNC_AUTH)")
	f.IntVar(&cfg.MaxRetryCount, "max-retry-count", cfg.MaxRetryCount, "tunnel connect retries per viewer connection (-1 for unlimited)")
	f.DurationVar(&cfg.MaxRetryInterval, "max-retry-interval", cfg.MaxRetryInterval, "maximum wait between connect retries")
	f.DurationVar(&cfg.HandshakeTimeout, "handshake-timeout", cfg.HandshakeTimeout, "WebSocket handshake timeout")
	f.IntVar(&cfg.BufferSize, "buffer-size", cfg.BufferSize, "transfer buffer size in bytes")
	return cmd
}

func newHashPasswordCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Print a bcrypt hash for use as a password in the config or auth file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var pass string
			if len(args) == 1 {
				pass = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("reading password: %w", err)
				}
				pass = strings.TrimRight(line, "\r\n")
			}
			if pass == "" {
				return errors.New("empty password")
			}
			h, err := chshare.HashPassword(pass)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), h)
			return nil
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), chshare.BuildVersion)
		},
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

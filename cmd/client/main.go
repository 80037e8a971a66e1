// Command zephyr is the reverse tunneling client (spec.md §6: CLI
// (client) -- config, http, tcp, plus a version command).
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/zephyrtun/zephyr/internal/client"
	"github.com/zephyrtun/zephyr/internal/config"
	"github.com/zephyrtun/zephyr/internal/rpc"
	"github.com/zephyrtun/zephyr/internal/version"
)

var (
	configPath string
	logLevel   string
	serverAddr string
	token      string
)

func setLogLevel(level string) {
	switch level {
	case "trace", "debug":
		log.SetLevel(log.DebugLevel)
	case "info", "":
		log.SetLevel(log.InfoLevel)
	case "warn":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	default:
		fmt.Fprintf(os.Stderr, "zephyr: unknown --log-level %q, using info\n", level)
		log.SetLevel(log.InfoLevel)
	}
}

// resolveCredentials applies cmd/client/main.go's layering: explicit flags
// win, otherwise fall back to the config file loaded from configPath (or
// the default location if unset).
func resolveCredentials(cmd *cobra.Command) (endpoint, tok string, err error) {
	cf, err := config.LoadClient(configPath)
	if err != nil {
		return "", "", err
	}

	endpoint = serverAddr
	if endpoint == "" {
		endpoint = cf.Endpoint
	}
	tok = token
	if tok == "" {
		tok = cf.Token
	}
	if endpoint == "" {
		return "", "", fmt.Errorf("no server endpoint: pass --server or run %q first", cmd.Root().Name()+" config")
	}
	return endpoint, tok, nil
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "zephyr",
		Short: "Expose local services to the internet",
		Long:  `zephyr is a reverse tunnel client that exposes local HTTP and TCP services to the public internet.`,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (default: <config home>/zephyr/config.ini)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: trace|debug|info|warn|error")
	rootCmd.PersistentFlags().StringVarP(&serverAddr, "server", "S", "", "Tunnel server address (overrides config file)")
	rootCmd.PersistentFlags().StringVarP(&token, "token", "t", "", "Auth token (overrides config file)")

	rootCmd.AddCommand(configCmd(), versionCmd(), httpCmd(), tcpCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("zephyr " + version.Full())
		},
	}
}

// configCmd implements "<client> config": interactively write endpoint and
// token to the config file (spec.md §6).
func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Interactively write the client config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			reader := bufio.NewReader(os.Stdin)

			fmt.Print("Server endpoint (host:port): ")
			endpoint, _ := reader.ReadString('\n')
			endpoint = trimNewline(endpoint)

			fmt.Print("Auth token: ")
			tok, _ := reader.ReadString('\n')
			tok = trimNewline(tok)

			if err := config.SaveClient(configPath, config.ClientFile{Endpoint: endpoint, Token: tok}); err != nil {
				return err
			}

			path := configPath
			if path == "" {
				path, _ = config.ClientConfigPath()
			}
			fmt.Printf("Wrote config to %s\n", path)
			return nil
		},
	}
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

func httpCmd() *cobra.Command {
	var subdomain string
	cmd := &cobra.Command{
		Use:   "http <port>",
		Short: "Expose a local HTTP service",
		Long: `Expose a local HTTP service to the internet.

Examples:
  zephyr http 3000                 # expose localhost:3000 at a random subdomain
  zephyr http 8080 --subdomain app # expose localhost:8080 at app.<default_domain>`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid port %q: %w", args[0], err)
			}
			return runTunnel(cmd, rpc.ProtocolHTTP, subdomain, port)
		},
	}
	cmd.Flags().StringVarP(&subdomain, "subdomain", "s", "", "Custom subdomain (random if not specified)")
	return cmd
}

func tcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tcp <port>",
		Short: "Expose a local TCP service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid port %q: %w", args[0], err)
			}
			return runTunnel(cmd, rpc.ProtocolTCP, "", port)
		},
	}
}

// runTunnel builds and runs a client.Client, mapping its typed errors
// (internal/client/errors.go) to the printed-reason-plus-exit-code contract
// of spec.md §6/§7.
func runTunnel(cmd *cobra.Command, protocol rpc.Protocol, subdomain string, port int) error {
	setLogLevel(logLevel)

	endpoint, tok, err := resolveCredentials(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := client.New(client.Config{
		ServerAddr: endpoint,
		Token:      tok,
		Protocol:   protocol,
		Subdomain:  subdomain,
		LocalPort:  port,
	})

	err = c.Run(ctx)
	if err == nil || ctx.Err() != nil {
		return nil
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
	return nil
}

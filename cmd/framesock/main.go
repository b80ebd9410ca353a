package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Zereker/framesock"
	"github.com/Zereker/framesock/handler"
)

var configFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "framesock",
	Short: "Length-prefixed message server and client over multiplexed TCP",
	Long: `framesock exchanges self-describing frames over non-blocking TCP connections.

Each frame is a 2-byte big-endian header length, a JSON header naming the
payload's content type, encoding and length, and the payload itself.

Use 'framesock serve' to answer requests and 'framesock request' to send them.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Accept connections and answer search, cmd and binary requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup(cmd)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runServe(ctx, cfg, logger)
	},
}

var (
	requestAction string
	requestValue  string
	requestBinary bool
)

var requestCmd = &cobra.Command{
	Use:   "request",
	Short: "Send one request over one or more connections and print the responses",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup(cmd)
		if err != nil {
			return err
		}

		req, err := buildRequest(requestAction, requestValue, requestBinary)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runRequest(ctx, cmd.OutOrStdout(), cfg, logger, req)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Configuration file (TOML)")
	rootCmd.PersistentFlags().String("host", "127.0.0.1", "Host to listen on or connect to")
	rootCmd.PersistentFlags().Int("port", 65432, "TCP port")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format (text, json, console)")

	serveCmd.Flags().Bool("persistent", false, "Keep connections open after each response")
	serveCmd.Flags().Duration("shutdown-timeout", 0, "How long open connections may finish after an interrupt")

	requestCmd.Flags().Int("conns", 1, "Number of connections, each sending the request")
	requestCmd.Flags().StringVar(&requestAction, "action", handler.ActionSearch, "Request action (search, cmd)")
	requestCmd.Flags().StringVar(&requestValue, "value", "", "Request value, or the payload with --binary")
	requestCmd.Flags().BoolVar(&requestBinary, "binary", false, "Send the value as an opaque binary payload")

	rootCmd.AddCommand(serveCmd, requestCmd)
}

// setup loads the config file, applies flag overrides and builds the logger.
func setup(cmd *cobra.Command) (config, framesock.Logger, error) {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return config{}, nil, err
	}
	if err = cfg.applyFlags(cmd.Flags()); err != nil {
		return config{}, nil, err
	}

	logger, err := newLogger(cmd.ErrOrStderr(), cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		return config{}, nil, err
	}
	return cfg, logger, nil
}

func connOptions(cfg config, logger framesock.Logger) []framesock.Option {
	return []framesock.Option{
		framesock.LoggerOption(logger),
		framesock.ReadBufferSizeOption(cfg.ReadBufferSize),
		framesock.MessageMaxSize(cfg.MaxMessageSize),
	}
}

func runServe(ctx context.Context, cfg config, logger framesock.Logger) error {
	addr, err := cfg.addr()
	if err != nil {
		return err
	}

	opts := append(connOptions(cfg, logger), framesock.PersistentOption(cfg.Persistent))
	server, err := framesock.New(addr,
		framesock.ServerLoggerOption(logger),
		framesock.ServerShutdownTimeoutOption(cfg.ShutdownTimeout),
		framesock.ServerConnOption(opts...),
	)
	if err != nil {
		return err
	}
	defer server.Close()

	logger.Info("listening", "addr", server.Addr())

	router := handler.NewRouter(cfg.Dictionary, handler.LoggerOption(logger))
	err = server.Serve(ctx, router)
	if errors.Is(err, context.Canceled) {
		logger.Info("caught interrupt, exiting")
		return nil
	}
	return err
}

func buildRequest(action, value string, binary bool) (*framesock.Message, error) {
	if binary {
		return framesock.NewBinaryMessage(framesock.ContentTypeBinaryRequest, []byte(value)), nil
	}
	return framesock.NewJSONMessage(map[string]string{"action": action, "value": value})
}

func runRequest(ctx context.Context, w io.Writer, cfg config, logger framesock.Logger, req *framesock.Message) error {
	addr, err := cfg.addr()
	if err != nil {
		return err
	}

	reqs := make([]*framesock.Message, cfg.Conns)
	for i := range reqs {
		reqs[i] = req
	}

	client := framesock.NewClient(connOptions(cfg, logger)...)
	resps, err := client.Do(ctx, addr, reqs...)

	for i, resp := range resps {
		if resp != nil {
			printResponse(w, i+1, resp)
		}
	}
	return err
}

func printResponse(w io.Writer, id int, resp *framesock.Message) {
	if resp.IsJSON() {
		if result, ok := resp.Field("result"); ok {
			fmt.Fprintf(w, "connection %d: got result: %s\n", id, result)
			return
		}
		fmt.Fprintf(w, "connection %d: got response: %s\n", id, resp.Body)
		return
	}
	fmt.Fprintf(w, "connection %d: got response: %q\n", id, resp.Body)
}

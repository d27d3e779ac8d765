// Command feedserver replays a CSV of ticks to simulator clients as JSON
// lines over TCP or WebSocket, or publishes it to a Redis stream.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	s3blob "github.com/alanyoungcy/tickbot/internal/blob/s3"
	"github.com/alanyoungcy/tickbot/internal/cache/redis"
	"github.com/alanyoungcy/tickbot/internal/config"
	"github.com/alanyoungcy/tickbot/internal/feed"
)

var (
	configPath string
	csvPath    string
	s3Key      string
	symbol     string
	interval   time.Duration
	restamp    bool
	verbose    bool
)

func main() {
	app := cli.NewApp()
	app.Name = "feedserver"
	app.Usage = "replay a CSV of ticks to tickbot"
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Usage:       "tickbot config file supplying the [s3] and [redis] sections",
			Destination: &configPath,
		},
		&cli.StringFlag{
			Name:        "csv",
			Usage:       "local CSV file to replay",
			Destination: &csvPath,
		},
		&cli.StringFlag{
			Name:        "s3-key",
			Usage:       "object key of the CSV in the configured bucket (instead of --csv)",
			Destination: &s3Key,
		},
		&cli.StringFlag{
			Name:        "symbol",
			Usage:       "override the symbol of every row",
			Destination: &symbol,
		},
		&cli.DurationFlag{
			Name:        "interval",
			Value:       time.Second,
			Usage:       "delay between rows; 0 streams as fast as the client reads",
			Destination: &interval,
		},
		&cli.BoolFlag{
			Name:        "restamp",
			Usage:       "replace each row's date with the time it is sent",
			Destination: &restamp,
		},
		&cli.BoolFlag{
			Name:        "verbose",
			Usage:       "log every row sent",
			Destination: &verbose,
		},
	}
	app.Commands = []*cli.Command{serveCommand, publishCommand}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := app.RunContext(ctx, os.Args); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "feedserver: %v\n", err)
		os.Exit(1)
	}
}

var serveCommand = &cli.Command{
	Name:  "serve",
	Usage: "serve the CSV to every connecting client",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "tcp", Value: "127.0.0.1:9999", Usage: "TCP listen address; empty disables"},
		&cli.StringFlag{Name: "ws", Usage: "WebSocket listen address, e.g. :9998; empty disables"},
		&cli.BoolFlag{Name: "once", Usage: "exit after the first TCP client has been served"},
	},
	Action: serve,
}

var publishCommand = &cli.Command{
	Name:  "publish",
	Usage: "append the CSV to a Redis stream followed by EOD",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "stream", Value: "ticks", Usage: "stream name under redis.key_prefix"},
	},
	Action: publish,
}

func serve(c *cli.Context) error {
	logger := newLogger()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	table, err := loadTable(c.Context, cfg, logger)
	if err != nil {
		return err
	}

	tcpAddr, wsAddr := c.String("tcp"), c.String("ws")
	if tcpAddr == "" && wsAddr == "" {
		return errors.New("serve: at least one of --tcp or --ws is required")
	}
	srv := feed.NewReplayServer(table, feed.ReplayOptions{
		Symbol:   symbol,
		Restamp:  restamp,
		Interval: interval,
		Once:     c.Bool("once"),
	}, logger)

	g, ctx := errgroup.WithContext(c.Context)
	if tcpAddr != "" {
		ln, err := net.Listen("tcp", tcpAddr)
		if err != nil {
			return fmt.Errorf("serve: listen tcp: %w", err)
		}
		g.Go(func() error {
			err := srv.ServeTCP(ctx, ln)
			if c.Bool("once") && err == nil {
				// A one-shot replay ends the whole process.
				return errOnceDone
			}
			return err
		})
	}
	if wsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /", srv)
		httpSrv := &http.Server{Addr: wsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			logger.Info("replay: websocket listening", slog.String("addr", wsAddr))
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve: websocket: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			return httpSrv.Shutdown(shutCtx)
		})
	}

	err = g.Wait()
	logger.Info("replay: stopped", slog.Int64("clients_served", srv.Served()))
	if errors.Is(err, errOnceDone) {
		return nil
	}
	return err
}

var errOnceDone = errors.New("one-shot replay finished")

func publish(c *cli.Context) error {
	logger := newLogger()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	table, err := loadTable(c.Context, cfg, logger)
	if err != nil {
		return err
	}

	client, err := redis.New(c.Context, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
		KeyPrefix:  cfg.Redis.KeyPrefix,
	})
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	defer client.Close()

	srv := feed.NewReplayServer(table, feed.ReplayOptions{
		Symbol:   symbol,
		Restamp:  restamp,
		Interval: interval,
	}, logger)
	return srv.PublishStream(c.Context, redis.NewSignalBus(client), c.String("stream"))
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

// loadConfig returns the tickbot config when --config is set, defaults
// otherwise.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("feedserver: %w", err)
	}
	return cfg, nil
}

func loadTable(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*feed.Table, error) {
	var (
		r   io.ReadCloser
		err error
	)
	switch {
	case csvPath != "" && s3Key != "":
		return nil, errors.New("feedserver: --csv and --s3-key are mutually exclusive")
	case csvPath != "":
		r, err = os.Open(csvPath)
	case s3Key != "":
		var client *s3blob.Client
		client, err = s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err == nil {
			r, err = s3blob.NewReader(client).Get(ctx, s3Key)
		}
	default:
		return nil, errors.New("feedserver: one of --csv or --s3-key is required")
	}
	if err != nil {
		return nil, fmt.Errorf("feedserver: open csv: %w", err)
	}
	defer r.Close()

	table, err := feed.ReadTable(r, feed.Codec{})
	if err != nil {
		return nil, fmt.Errorf("feedserver: %w", err)
	}
	logger.Info("feedserver: table loaded", slog.Int("rows", len(table.Rows)))
	return table, nil
}

package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"horse.fit/newswatch/internal/httpapi"
	"horse.fit/newswatch/internal/logging"
)

func runServe(args []string) int {
	fs, envLoader := newFlagSet("serve")
	host := fs.String("host", "0.0.0.0", "Host interface to bind")
	port := fs.Int("port", 8090, "HTTP port")
	readTimeout := fs.Duration("read-timeout", 10*time.Second, "HTTP read timeout")
	writeTimeout := fs.Duration("write-timeout", 15*time.Minute, "HTTP write timeout; must cover a triggered pipeline run")
	shutdownTimeout := fs.Duration("shutdown-timeout", 10*time.Second, "Graceful shutdown timeout")
	digestHours := fs.Int("digest-hours", 24, "Lookback in hours for GET /api/v1/digest")
	if code, ok := parseArgs(fs, args); !ok {
		return code
	}
	if *port <= 0 || *port > 65535 {
		fmt.Fprintln(os.Stderr, "--port must be between 1 and 65535")
		return 2
	}
	if *digestHours <= 0 {
		fmt.Fprintln(os.Stderr, "--digest-hours must be > 0")
		return 2
	}

	rt, err := bootstrap(envLoader, connectTimeout)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer rt.Close()

	c, err := rt.components()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to wire pipeline: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		<-sigCh
		cancel()
	}()

	srv := httpapi.NewServer(httpapi.Deps{
		Store:    rt.pool,
		Pipeline: c.pipeline,
		Digest:   c.digest,
		Keywords: c.rules,
	}, logging.Component(rt.logger, "httpapi"), httpapi.Options{
		Host:              *host,
		Port:              *port,
		ReadTimeout:       *readTimeout,
		WriteTimeout:      *writeTimeout,
		ShutdownTimeout:   *shutdownTimeout,
		TriggerSecretHash: rt.cfg.TriggerSecretHash,
		DigestWindow:      time.Duration(*digestHours) * time.Hour,
	})

	if err := srv.Start(ctx); err != nil {
		rt.logger.Error().Err(err).Str("host", *host).Int("port", *port).Msg("server failed")
		fmt.Fprintf(os.Stderr, "Server failed: %v\n", err)
		return 1
	}
	return 0
}

// Command daemon runs the filesystem-to-URL sync daemon of spec.md §4.8:
// it watches BRAID_ROOT for local edits, syncs them out to their mapped
// Braid-HTTP resources, subscribes to those resources for inbound updates,
// and serves an admin HTTP API for GET/PUT of local projections, blob
// access, and sync/unsync commands.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/braidfs/braidfs/internal/fsdaemon"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const exitOK = 0
const exitBindFailure = 1
const exitConfigFailure = 2

func main() {
	os.Exit(run())
}

func run() int {
	port := flag.Int("port", 45678, "admin HTTP API port")
	dev := flag.Bool("dev", false, "enable development logging")
	flag.Parse()

	log, err := newLogger(*dev)
	if err != nil {
		fmt.Fprintf(os.Stderr, "daemon: build logger: %v\n", err)
		return exitConfigFailure
	}
	defer log.Sync()

	root := os.Getenv("BRAID_ROOT")
	if root == "" {
		root = "./braid_data"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		log.Error("create BRAID_ROOT", zap.String("root", root), zap.Error(err))
		return exitConfigFailure
	}

	peerID := uuid.NewString()
	d, err := fsdaemon.Open(root, peerID, fsdaemon.WithLogger(log))
	if err != nil {
		log.Error("open daemon", zap.Error(err))
		return exitConfigFailure
	}
	defer d.Close()

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", *port))
	if err != nil {
		log.Error("bind admin API", zap.Int("port", *port), zap.Error(err))
		return exitBindFailure
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	server := &http.Server{Handler: d.AdminRouter()}
	go func() {
		<-ctx.Done()
		server.Close()
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- d.Run(ctx)
	}()

	log.Info("daemon listening", zap.String("root", root), zap.Int("port", *port), zap.String("peer_id", d.PeerID()))
	serveErr := server.Serve(listener)
	cancel()
	<-errCh

	if serveErr != nil && serveErr != http.ErrServerClosed {
		log.Error("admin API server", zap.Error(serveErr))
		return exitBindFailure
	}
	return exitOK
}

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

/*
   Copyright The h5viewer Authors.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

// Command h5viewer serves the HTTP data-access surface (§6) over a
// directory or object-store bucket of HDF5-format containers.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	cli "github.com/urfave/cli"

	"github.com/scidata/h5viewer/internal/cache"
	"github.com/scidata/h5viewer/internal/config"
	"github.com/scidata/h5viewer/internal/engine"
	"github.com/scidata/h5viewer/internal/hdf5"
	"github.com/scidata/h5viewer/internal/httpapi"
	"github.com/scidata/h5viewer/internal/lifecycle"
	"github.com/scidata/h5viewer/internal/readerpool"
	"github.com/scidata/h5viewer/internal/selection"
	"github.com/scidata/h5viewer/internal/storage"
)

const (
	exitConfig             = 2
	exitStorageUnreachable = 3
)

func main() {
	app := cli.NewApp()
	app.Name = "h5viewer"
	app.Usage = "serve HDF5 container previews, selections, and CSV exports over HTTP"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config",
			Usage: "path to a TOML configuration file",
		},
		cli.BoolFlag{
			Name:  "eager",
			Usage: "probe storage reachability at startup instead of on first request",
		},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "h5viewer:", err)
		if exitErr, ok := err.(exitCodeError); ok {
			os.Exit(exitErr.code)
		}
		os.Exit(exitConfig)
	}
}

type exitCodeError struct {
	code int
	err  error
}

func (e exitCodeError) Error() string { return e.err.Error() }

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return exitCodeError{exitConfig, err}
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return exitCodeError{exitConfig, err}
	}
	log := logrus.New()
	log.SetLevel(level)
	entry := logrus.NewEntry(log)

	adapter, err := buildAdapter(cfg.Storage)
	if err != nil {
		return exitCodeError{exitConfig, err}
	}

	if c.Bool("eager") {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		_, err := adapter.List(ctx, "", "/")
		cancel()
		if err != nil {
			return exitCodeError{exitStorageUnreachable, fmt.Errorf("storage unreachable at startup: %w", err)}
		}
	}

	listingCache := cache.New(4096, cfg.Cache.ListingTTL())
	metaCache := cache.New(4096, cfg.Cache.MetaTTL())
	chunkCache := hdf5.NewMemoryChunkCache(8192)
	pool := readerpool.New(adapter, chunkCache, cfg.Readers.MaxOpen, entry.WithField("component", "readerpool"))
	lm := lifecycle.New(cfg.Limits.ConcurrentRequests)

	limits := selection.Limits{
		MaxExtractElements: cfg.Limits.MaxExtractElements,
		ExactLinePoints:    cfg.Limits.ExactLinePoints,
		HeatmapMaxSide:     cfg.Limits.HeatmapMaxSide,
	}
	eng := engine.New(adapter, listingCache, metaCache, pool, lm, limits, 30*time.Second)
	srv := httpapi.NewServer(eng, entry.WithField("component", "httpapi"))

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv,
	}

	errCh := make(chan error, 1)
	go func() {
		entry.WithField("addr", cfg.Server.Addr).Info("listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return exitCodeError{exitConfig, err}
	case sig := <-sigCh:
		entry.WithField("signal", sig.String()).Info("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		entry.WithError(err).Warn("graceful shutdown failed")
	}
	return nil
}

func buildAdapter(cfg config.StorageConfig) (storage.Adapter, error) {
	switch cfg.Mode {
	case "local":
		return storage.NewLocalFS(cfg.BaseDir)
	case "s3":
		return storage.NewObjectStore(storage.ObjectStoreConfig{
			Endpoint:  cfg.Endpoint,
			Bucket:    cfg.Bucket,
			Region:    cfg.Region,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
		}), nil
	default:
		return nil, fmt.Errorf("unknown storage mode %q", cfg.Mode)
	}
}

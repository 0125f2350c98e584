// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/comind/pkg/logging"
	"github.com/AleutianAI/comind/services/atproto"
	"github.com/AleutianAI/comind/services/consumer"
	"github.com/AleutianAI/comind/services/engine"
	"github.com/AleutianAI/comind/services/lexicon"
	"github.com/AleutianAI/comind/services/llm"
	"github.com/AleutianAI/comind/services/thread"
)

func runConsume(cmd *cobra.Command, args []string) error {
	if config.Identifier == "" || config.Password == "" {
		cmd.Usage()
		return fmt.Errorf("repository credentials are not set (COMIND_BSKY_USERNAME / COMIND_BSKY_PASSWORD)")
	}
	if config.Persona == "" && config.Sphere == "" {
		cmd.Usage()
		return fmt.Errorf("either --persona or --sphere is required")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := newLogger("consumer")
	defer logger.Close()

	client, sessions, err := login(ctx, logger)
	if err != nil {
		return err
	}
	defer sessions.Close()

	store := atproto.NewStore(client, logger)
	persona, err := resolvePersona(ctx, store)
	if err != nil {
		return err
	}

	cache, err := atproto.LoadIdentityCache(config.IdentityCache, logger)
	if err != nil {
		return err
	}
	defer cache.Flush()

	watch := consumer.NewWatchList(config.WatchList, cache, client, logger)
	dids, err := watch.Load(ctx)
	if err != nil {
		return err
	}
	if len(dids) == 0 {
		return fmt.Errorf("watch list %s resolves to zero identities, nothing to consume", config.WatchList)
	}

	model, err := llm.NewOpenAIClient(llm.Config{
		APIKey:  config.Model.APIKey,
		BaseURL: config.Model.BaseURL,
		Model:   config.Model.Name,
	}, logger)
	if err != nil {
		return err
	}

	opts := []engine.Option{}
	if config.PromptDir != "" {
		opts = append(opts, engine.WithPromptDir(config.PromptDir))
	}

	consumerOpts := consumer.Options{
		Host:        config.JetstreamHost,
		Persona:     persona,
		ThreadDepth: config.ThreadDepth,
	}
	if config.Graph.Enabled {
		mirror, err := connectMirror(ctx, logger)
		if err != nil {
			return err
		}
		defer mirror.Close(context.Background())
		opts = append(opts, engine.WithMirror(mirror))
		consumerOpts.Mirror = mirror
	}

	eng, err := engine.NewEngine(lexicon.NewComposer(logger, ""), model, store, logger, opts...)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	consumerOpts.Metrics = consumer.NewMetrics(reg)
	if config.MetricsAddr != "" {
		go serveMetrics(config.MetricsAddr, reg, logger)
	}

	resolver := thread.NewResolver(client, logger)
	c := consumer.New(consumerOpts, watch, resolver, eng, logger)

	err = c.Run(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Info("consumer stopped")
		return nil
	}
	return err
}

// resolvePersona returns the perspective text for prompts: the
// configured text, or the text of the named sphere's core record.
func resolvePersona(ctx context.Context, store *atproto.Store) (string, error) {
	if config.Persona != "" {
		return config.Persona, nil
	}

	rkey := atproto.NormalizeKey(config.Sphere)
	rec, err := store.Get(ctx, atproto.CollectionSphereCore, rkey)
	if err != nil {
		return "", fmt.Errorf("fetching sphere %q: %w", config.Sphere, err)
	}
	if rec == nil {
		return "", fmt.Errorf("sphere %q does not exist (no %s/%s record)", config.Sphere, atproto.CollectionSphereCore, rkey)
	}
	text, _ := rec.Value["text"].(string)
	if text == "" {
		return "", fmt.Errorf("sphere %q has no text to use as a persona", config.Sphere)
	}
	return text, nil
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *logging.Logger) {
	server := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Info("serving metrics", "addr", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server failed", "error", err)
	}
}

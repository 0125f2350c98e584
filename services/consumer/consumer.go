// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package consumer runs the jetstream ingestion loop.
//
// The loop is single-threaded and cooperative: it processes events
// strictly in arrival order, one at a time, so a given event's writes
// always complete or fail before the next event starts. Per-event
// errors are logged with the event URI and never unwind into
// connection management; transport errors unwind into the reconnect
// loop.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AleutianAI/comind/pkg/logging"
	"github.com/AleutianAI/comind/services/atproto"
	"github.com/AleutianAI/comind/services/engine"
)

const (
	// ReceiveTimeout bounds each stream read so the loop can
	// periodically check whether the watch list changed.
	ReceiveTimeout = 10 * time.Second

	// WatchRefreshInterval is how often the watch-list file is
	// re-read while connected.
	WatchRefreshInterval = 300 * time.Second

	// ReconnectDelay is the fixed backoff after a transport failure.
	// Voluntary reconnects (watch list changed) skip it.
	ReconnectDelay = 5 * time.Second

	// ReconcileInterval spaces periodic duplicate-node reconciliation
	// when mirroring is enabled.
	ReconcileInterval = 10 * time.Minute
)

// streamConn is the subset of *websocket.Conn the loop needs.
type streamConn interface {
	SetReadDeadline(t time.Time) error
	ReadMessage() (int, []byte, error)
	Close() error
}

type dialFunc func(ctx context.Context, url string) (streamConn, error)

func dialWebsocket(ctx context.Context, url string) (streamConn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// annotator is the generation pipeline surface. *engine.Engine
// implements it.
type annotator interface {
	Annotate(ctx context.Context, fields map[string]string, target *atproto.Ref) error
}

// contextResolver is the thread-unpacking surface. *thread.Resolver
// implements it.
type contextResolver interface {
	Resolve(ctx context.Context, uri string, depth int, watched map[string]bool) (string, []atproto.Ref, error)
}

// postMirror is the optional graph surface the consumer drives
// directly: post nodes and periodic reconciliation. Record mirroring
// itself happens inside the engine.
type postMirror interface {
	SyncPost(ctx context.Context, uri, cid, text string) error
	ReconcileDuplicateNodes(ctx context.Context) (int, error)
}

// Options configures a Consumer.
type Options struct {
	Host        string // jetstream subscribe URL, e.g. wss://jetstream2.us-east.bsky.network/subscribe
	Persona     string // perspective text interpolated into every prompt
	ThreadDepth int    // caller depth limit for thread fetches

	Mirror  postMirror // nil disables graph maintenance
	Metrics *Metrics   // nil disables counting
}

// Consumer owns the stream connection and the per-event pipeline.
type Consumer struct {
	opts     Options
	watch    *WatchList
	resolver contextResolver
	engine   annotator
	dedupe   *DedupeCache
	metrics  *Metrics
	logger   *logging.Logger

	dial  dialFunc
	sleep func(time.Duration)
	now   func() time.Time

	receiveTimeout  time.Duration
	refreshInterval time.Duration
	reconnectDelay  time.Duration

	dids          []string
	watched       map[string]bool
	lastReconcile time.Time
}

func New(opts Options, watch *WatchList, resolver contextResolver, eng annotator, logger *logging.Logger) *Consumer {
	metrics := opts.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Consumer{
		opts:            opts,
		watch:           watch,
		resolver:        resolver,
		engine:          eng,
		dedupe:          NewDedupeCache(DedupeCeiling),
		metrics:         metrics,
		logger:          logger,
		dial:            dialWebsocket,
		sleep:           time.Sleep,
		now:             time.Now,
		receiveTimeout:  ReceiveTimeout,
		refreshInterval: WatchRefreshInterval,
		reconnectDelay:  ReconnectDelay,
	}
}

// Run consumes the stream until ctx is cancelled. It reconnects with a
// fixed delay on transport failure and immediately when the watch list
// changes.
func (c *Consumer) Run(ctx context.Context) error {
	dids, err := c.watch.Load(ctx)
	if err != nil {
		return fmt.Errorf("initial watch list load: %w", err)
	}
	c.setWatched(dids)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(c.dids) == 0 {
			c.logger.Warn("watch list is empty, all thread content will be redacted")
		}

		url := StreamURL(c.opts.Host, []string{atproto.CollectionPost}, c.dids)
		c.logger.Info("connecting to jetstream", "identities", len(c.dids))
		conn, err := c.dial(ctx, url)
		if err != nil {
			c.logger.Error("stream connect failed", "error", err)
			c.metrics.Reconnects.Inc()
			c.sleep(c.reconnectDelay)
			continue
		}

		voluntary := c.readLoop(ctx, conn)
		conn.Close()
		if err := ctx.Err(); err != nil {
			return err
		}
		c.metrics.Reconnects.Inc()
		if !voluntary {
			c.sleep(c.reconnectDelay)
		}
	}
}

// readLoop drains one connection. It returns true when the
// disconnect is voluntary (watch list changed) and false on transport
// failure.
func (c *Consumer) readLoop(ctx context.Context, conn streamConn) bool {
	lastRefresh := c.now()
	for {
		if ctx.Err() != nil {
			return true
		}

		if c.now().Sub(lastRefresh) > c.refreshInterval {
			lastRefresh = c.now()
			if c.refreshWatchList(ctx) {
				c.logger.Info("watch list changed, reconnecting with new filter")
				return true
			}
		}
		c.maybeReconcile(ctx)

		conn.SetReadDeadline(c.now().Add(c.receiveTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				// Expected: gives the loop a chance to refresh.
				continue
			}
			c.logger.Error("stream read failed", "error", err)
			return false
		}
		c.handleMessage(ctx, message)
	}
}

// refreshWatchList reloads the file and reports whether the set of
// watched DIDs changed. A failed reload keeps the current list.
func (c *Consumer) refreshWatchList(ctx context.Context) bool {
	dids, err := c.watch.Load(ctx)
	if err != nil {
		c.logger.Error("watch list refresh failed, keeping current list", "error", err)
		return false
	}
	if sameSet(c.dids, dids) {
		return false
	}
	c.setWatched(dids)
	return true
}

func (c *Consumer) setWatched(dids []string) {
	c.dids = dids
	c.watched = make(map[string]bool, len(dids))
	for _, did := range dids {
		c.watched[did] = true
	}
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]bool, len(a))
	for _, v := range a {
		set[v] = true
	}
	for _, v := range b {
		if !set[v] {
			return false
		}
	}
	return true
}

func (c *Consumer) maybeReconcile(ctx context.Context) {
	if c.opts.Mirror == nil || c.now().Sub(c.lastReconcile) < ReconcileInterval {
		return
	}
	c.lastReconcile = c.now()
	if _, err := c.opts.Mirror.ReconcileDuplicateNodes(ctx); err != nil {
		c.logger.Warn("periodic graph reconciliation failed", "error", err)
	}
}

// handleMessage decodes and processes one stream message. All
// per-event errors terminate here.
func (c *Consumer) handleMessage(ctx context.Context, message []byte) {
	c.metrics.EventsReceived.Inc()

	var event CommitEvent
	if err := json.Unmarshal(message, &event); err != nil {
		c.logger.Warn("undecodable stream message", "error", err)
		c.metrics.EventsSkipped.Inc()
		return
	}
	if !event.IsPostCreate() {
		c.metrics.EventsSkipped.Inc()
		return
	}

	uri := event.PostURI()
	if c.dedupe.Observe(uri) {
		c.logger.Debug("already processed, skipping", "uri", uri)
		c.metrics.EventsSkipped.Inc()
		return
	}

	if err := c.processPost(ctx, &event, uri); err != nil {
		c.logger.Error("event processing failed", "uri", uri, "error", err)
		var parseErr *engine.GenerationParseError
		if errors.As(err, &parseErr) {
			c.metrics.GenerationFailures.Inc()
		}
		c.metrics.EventsFailed.Inc()
		return
	}
	c.metrics.EventsProcessed.Inc()
}

func (c *Consumer) processPost(ctx context.Context, event *CommitEvent, uri string) error {
	// Replies are annotated in the context of their whole thread.
	threadURI := uri
	if root := event.ReplyRootURI(); root != "" {
		threadURI = root
	}

	c.logger.Info("processing post", "uri", uri, "thread", threadURI)
	text, _, err := c.resolver.Resolve(ctx, threadURI, c.opts.ThreadDepth, c.watched)
	if err != nil {
		return err
	}

	if c.opts.Mirror != nil {
		postText, _ := event.Commit.Record["text"].(string)
		if !c.watched[event.DID] {
			postText = ""
		}
		if err := c.opts.Mirror.SyncPost(ctx, uri, event.Commit.CID, postText); err != nil {
			c.logger.Warn("post mirror sync failed", "uri", uri, "error", err)
		}
	}

	fields := map[string]string{
		"persona": c.opts.Persona,
		"content": text,
	}
	target := &atproto.Ref{URI: uri, CID: event.Commit.CID}
	return c.engine.Annotate(ctx, fields, target)
}

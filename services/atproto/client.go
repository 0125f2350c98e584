// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package atproto talks to an AT Protocol repository host over XRPC.
//
// The surface is deliberately small: session management, handle/profile
// directory lookups, thread fetches, and repository record CRUD. The
// repository is an opaque collaborator; this package does not replicate
// signing or sync.
package atproto

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/AleutianAI/comind/pkg/logging"
)

// Session holds the credentials returned by the repository host.
type Session struct {
	DID        string `json:"did"`
	Handle     string `json:"handle"`
	AccessJWT  string `json:"accessJwt"`
	RefreshJWT string `json:"refreshJwt"`
}

// Client is an authenticated XRPC client for one repository identity.
//
// The client is used from a single consumer loop; it does not lock.
// Token refresh is explicit: RefreshCredentials is invoked when a call
// comes back with an expired token, and persisting the refreshed
// session is the caller's effect via the optional SessionStore.
type Client struct {
	host       string
	http       *http.Client
	logger     *logging.Logger
	store      *SessionStore
	session    *Session
	identifier string
	password   string
}

// NewClient creates a client for the given host (e.g.
// "https://bsky.social"). store may be nil; when present, sessions are
// reused across restarts and persisted after create/refresh.
func NewClient(host, identifier, password string, store *SessionStore, logger *logging.Logger) *Client {
	return &Client{
		host:       host,
		http:       &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
		store:      store,
		identifier: identifier,
		password:   password,
	}
}

// DID returns the authenticated repository DID, or "" before Login.
func (c *Client) DID() string {
	if c.session == nil {
		return ""
	}
	return c.session.DID
}

// Login establishes a session, reusing a persisted one when available.
// A stale persisted session falls through to a fresh createSession.
func (c *Client) Login(ctx context.Context) error {
	if c.store != nil {
		sess, err := c.store.Load(c.identifier)
		if err != nil {
			c.logger.Warn("failed to load persisted session", "error", err)
		} else if sess != nil {
			c.session = sess
			if _, err := c.RefreshCredentials(ctx); err == nil {
				c.logger.Info("reusing persisted session", "did", c.session.DID)
				return nil
			}
			c.logger.Info("persisted session expired, creating a new one")
			c.session = nil
		}
	}

	var sess Session
	err := c.procedure(ctx, "com.atproto.server.createSession", map[string]any{
		"identifier": c.identifier,
		"password":   c.password,
	}, &sess, false)
	if err != nil {
		return fmt.Errorf("createSession: %w", err)
	}
	c.session = &sess
	c.persistSession()
	c.logger.Info("session created", "did", sess.DID, "handle", sess.Handle)
	return nil
}

// RefreshCredentials exchanges the refresh token for a new session and
// returns it. The new session replaces the client's current one and is
// persisted to the session store when configured.
func (c *Client) RefreshCredentials(ctx context.Context) (*Session, error) {
	if c.session == nil {
		return nil, fmt.Errorf("no session to refresh")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.host+"/xrpc/com.atproto.server.refreshSession", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.session.RefreshJWT)

	var sess Session
	if err := c.do(req, &sess); err != nil {
		return nil, fmt.Errorf("refreshSession: %w", err)
	}
	c.session = &sess
	c.persistSession()
	return &sess, nil
}

func (c *Client) persistSession() {
	if c.store == nil || c.session == nil {
		return
	}
	if err := c.store.Save(c.identifier, c.session); err != nil {
		c.logger.Warn("failed to persist session", "error", err)
	}
}

// ResolveHandle resolves a handle to its DID.
func (c *Client) ResolveHandle(ctx context.Context, handle string) (string, error) {
	var out struct {
		DID string `json:"did"`
	}
	params := url.Values{"handle": {handle}}
	if err := c.query(ctx, "com.atproto.identity.resolveHandle", params, &out); err != nil {
		return "", fmt.Errorf("resolveHandle %s: %w", handle, err)
	}
	return out.DID, nil
}

// GetProfile fetches the directory profile for a DID or handle and
// returns it as an Identity.
func (c *Client) GetProfile(ctx context.Context, actor string) (Identity, error) {
	var out struct {
		DID         string `json:"did"`
		Handle      string `json:"handle"`
		DisplayName string `json:"displayName"`
		Description string `json:"description"`
	}
	params := url.Values{"actor": {actor}}
	if err := c.query(ctx, "app.bsky.actor.getProfile", params, &out); err != nil {
		return Identity{}, fmt.Errorf("getProfile %s: %w", actor, err)
	}
	return Identity{
		DID:         out.DID,
		Handle:      out.Handle,
		DisplayName: out.DisplayName,
		Description: out.Description,
	}, nil
}

// GetPostThread fetches the thread containing uri. depth <= 0 asks the
// server for its default depth. The raw thread JSON is returned; the
// thread package is responsible for stripping and serializing it.
func (c *Client) GetPostThread(ctx context.Context, uri string, depth int) (map[string]any, error) {
	params := url.Values{"uri": {uri}}
	if depth > 0 {
		params.Set("depth", strconv.Itoa(depth))
	}
	var out map[string]any
	if err := c.query(ctx, "app.bsky.feed.getPostThread", params, &out); err != nil {
		return nil, fmt.Errorf("getPostThread %s: %w", uri, err)
	}
	return out, nil
}

// CreateRecord writes a record into the authenticated repository. An
// empty rkey lets the server assign one.
func (c *Client) CreateRecord(ctx context.Context, collection, rkey string, record map[string]any) (Ref, error) {
	body := map[string]any{
		"repo":       c.DID(),
		"collection": collection,
		"record":     record,
	}
	if rkey != "" {
		body["rkey"] = rkey
	}
	var ref Ref
	if err := c.procedure(ctx, "com.atproto.repo.createRecord", body, &ref, true); err != nil {
		return Ref{}, fmt.Errorf("createRecord %s: %w", collection, err)
	}
	return ref, nil
}

// GetRecord fetches one record by collection and key. A missing record
// returns ErrNotFound.
func (c *Client) GetRecord(ctx context.Context, collection, rkey string) (*Record, error) {
	params := url.Values{
		"repo":       {c.DID()},
		"collection": {collection},
		"rkey":       {rkey},
	}
	var out Record
	if err := c.query(ctx, "com.atproto.repo.getRecord", params, &out); err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) && (apiErr.Name == "RecordNotFound" || apiErr.status == http.StatusNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getRecord %s/%s: %w", collection, rkey, err)
	}
	return &out, nil
}

// ListRecords fetches one page of records. It returns the page and the
// cursor for the next one ("" when exhausted).
func (c *Client) ListRecords(ctx context.Context, collection, cursor string, limit int) ([]Record, string, error) {
	params := url.Values{
		"repo":       {c.DID()},
		"collection": {collection},
		"limit":      {strconv.Itoa(limit)},
	}
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	var out struct {
		Cursor  string   `json:"cursor"`
		Records []Record `json:"records"`
	}
	if err := c.query(ctx, "com.atproto.repo.listRecords", params, &out); err != nil {
		return nil, "", fmt.Errorf("listRecords %s: %w", collection, err)
	}
	return out.Records, out.Cursor, nil
}

// DeleteRecord removes one record. Namespace guarding happens a layer
// up, in Store; this is the raw call.
func (c *Client) DeleteRecord(ctx context.Context, collection, rkey string) error {
	body := map[string]any{
		"repo":       c.DID(),
		"collection": collection,
		"rkey":       rkey,
	}
	if err := c.procedure(ctx, "com.atproto.repo.deleteRecord", body, nil, true); err != nil {
		return fmt.Errorf("deleteRecord %s/%s: %w", collection, rkey, err)
	}
	return nil
}

// query performs an authenticated GET XRPC call.
func (c *Client) query(ctx context.Context, nsid string, params url.Values, out any) error {
	u := c.host + "/xrpc/" + nsid
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return c.authedDo(ctx, req, nil, out)
}

// procedure performs a POST XRPC call. authed controls whether the
// access token is attached (createSession must not send one).
func (c *Client) procedure(ctx context.Context, nsid string, body map[string]any, out any, authed bool) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/xrpc/"+nsid, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if !authed {
		return c.do(req, out)
	}
	return c.authedDo(ctx, req, payload, out)
}

// authedDo attaches the access token and retries once through an
// explicit credential refresh when the token has expired. body is the
// request payload for rebuilding the request on retry (nil for GET).
func (c *Client) authedDo(ctx context.Context, req *http.Request, body []byte, out any) error {
	if c.session != nil {
		req.Header.Set("Authorization", "Bearer "+c.session.AccessJWT)
	}
	err := c.do(req, out)

	var apiErr *apiError
	if err != nil && errors.As(err, &apiErr) && apiErr.Name == "ExpiredToken" && c.session != nil {
		c.logger.Info("access token expired, refreshing session")
		if _, refreshErr := c.RefreshCredentials(ctx); refreshErr != nil {
			return fmt.Errorf("token refresh after expiry: %w", refreshErr)
		}
		retry, buildErr := http.NewRequestWithContext(ctx, req.Method, req.URL.String(), bytes.NewReader(body))
		if buildErr != nil {
			return buildErr
		}
		if req.Method == http.MethodPost {
			retry.Header.Set("Content-Type", "application/json")
		}
		retry.Header.Set("Authorization", "Bearer "+c.session.AccessJWT)
		return c.do(retry, out)
	}
	return err
}

// do executes the request and decodes the response, mapping XRPC error
// envelopes onto apiError.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var envelope apiError
		if json.Unmarshal(data, &envelope) == nil && envelope.Name != "" {
			envelope.status = resp.StatusCode
			return &envelope
		}
		return &apiError{Name: "Unknown", Message: string(data), status: resp.StatusCode}
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

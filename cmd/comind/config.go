// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the merged runtime configuration. Precedence, lowest to
// highest: defaults, YAML file, COMIND_* environment, flags.
type Config struct {
	// ATProto account credentials.
	Identifier string `yaml:"identifier" validate:"required"`
	Password   string `yaml:"password" validate:"required"`

	PDSHost       string `yaml:"pds_host" validate:"required,url"`
	JetstreamHost string `yaml:"jetstream_host" validate:"required"`

	// Persona is the perspective text interpolated into every prompt.
	// When empty, Sphere names a sphere.core record whose text is used
	// instead.
	Persona string `yaml:"persona"`
	Sphere  string `yaml:"sphere"`

	WatchList     string `yaml:"watch_list"`
	IdentityCache string `yaml:"identity_cache"`
	SessionDir    string `yaml:"session_dir"`
	PromptDir     string `yaml:"prompt_dir"`
	ThreadDepth   int    `yaml:"thread_depth" validate:"gte=0"`

	LogLevel    string `yaml:"log_level"`
	LogDir      string `yaml:"log_dir"`
	MetricsAddr string `yaml:"metrics_addr"`

	Model ModelConfig `yaml:"model"`
	Graph GraphConfig `yaml:"graph"`
}

type ModelConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Name    string `yaml:"name"`
}

type GraphConfig struct {
	Enabled  bool   `yaml:"enabled"`
	URI      string `yaml:"uri"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

func defaultConfig() Config {
	return Config{
		PDSHost:       "https://bsky.social",
		JetstreamHost: "wss://jetstream2.us-east.bsky.network/subscribe",
		WatchList:     "activated_accounts.txt",
		IdentityCache: "identity_cache.json",
		SessionDir:    ".comind/sessions",
		LogLevel:      "info",
		Model: ModelConfig{
			Name: "gpt-4o-mini",
		},
		Graph: GraphConfig{
			URI:      "bolt://localhost:7687",
			Username: "neo4j",
		},
	}
}

// loadConfig reads the optional YAML file at path, then layers the
// environment on top. A missing file is fine unless the path was set
// explicitly.
func loadConfig(path string, explicit bool) (Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if explicit || !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString(&cfg.Identifier, "COMIND_BSKY_USERNAME")
	setString(&cfg.Password, "COMIND_BSKY_PASSWORD")
	setString(&cfg.PDSHost, "COMIND_PDS_HOST")
	setString(&cfg.JetstreamHost, "COMIND_JETSTREAM_HOST")
	setString(&cfg.Persona, "COMIND_PERSONA")
	setString(&cfg.Sphere, "COMIND_SPHERE")
	setString(&cfg.WatchList, "COMIND_WATCH_LIST")
	setString(&cfg.LogLevel, "COMIND_LOG_LEVEL")
	setString(&cfg.Model.APIKey, "COMIND_MODEL_API_KEY")
	setString(&cfg.Model.BaseURL, "COMIND_MODEL_BASE_URL")
	setString(&cfg.Model.Name, "COMIND_MODEL_NAME")
	setString(&cfg.Graph.URI, "COMIND_GRAPH_URI")
	setString(&cfg.Graph.Username, "COMIND_GRAPH_USERNAME")
	setString(&cfg.Graph.Password, "COMIND_GRAPH_PASSWORD")
	if v := os.Getenv("COMIND_GRAPH_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Graph.Enabled = enabled
		}
	}
	if v := os.Getenv("COMIND_THREAD_DEPTH"); v != "" {
		if depth, err := strconv.Atoi(v); err == nil {
			cfg.ThreadDepth = depth
		}
	}
}

// validateConfig checks the merged configuration. Validation errors
// are fatal at startup, never caught internally.
func validateConfig(cfg Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Graph.Enabled && cfg.Graph.Password == "" {
		return fmt.Errorf("invalid configuration: graph mirroring enabled but graph.password is empty")
	}
	return nil
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"github.com/spf13/cobra"
)

// config is the merged configuration every command runs against. It is
// populated by the root PersistentPreRunE before any RunE fires.
var config Config

// Flag storage. Flags override the file and the environment.
var (
	flagConfig      string
	flagPersona     string
	flagSphere      string
	flagWatchList   string
	flagJetstream   string
	flagPromptDir   string
	flagDepth       int
	flagLogLevel    string
	flagMetricsAddr string
	flagGraph       bool
	flagForce       bool
)

var (
	rootCmd = &cobra.Command{
		Use:          "comind",
		Short:        "Cognitive layer for the AT Protocol",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flagConfig, cmd.Flags().Changed("config"))
			if err != nil {
				return err
			}
			applyFlags(cmd, &cfg)
			config = cfg
			return nil
		},
	}

	consumeCmd = &cobra.Command{
		Use:   "consume",
		Short: "Stream posts from watched accounts and annotate them",
		Args:  cobra.NoArgs,
		RunE:  runConsume,
	}

	graphCmd = &cobra.Command{
		Use:   "graph",
		Short: "Maintain the Neo4j mirror of the repository",
	}

	graphSyncCmd = &cobra.Command{
		Use:   "sync",
		Short: "Mirror every repository record into the graph",
		Args:  cobra.NoArgs,
		RunE:  runGraphSync,
	}

	graphCleanupCmd = &cobra.Command{
		Use:   "cleanup",
		Short: "Remove duplicate unlabeled nodes from the graph",
		Args:  cobra.NoArgs,
		RunE:  runGraphCleanup,
	}

	recordsCmd = &cobra.Command{
		Use:   "records",
		Short: "Inspect and manage repository records",
	}

	recordsListCmd = &cobra.Command{
		Use:   "list <collection>",
		Short: "List every record in a collection",
		Args:  cobra.ExactArgs(1),
		RunE:  runRecordsList,
	}

	recordsClearCmd = &cobra.Command{
		Use:   "clear <collection>",
		Short: "Delete every record in a collection (me.comind.* only)",
		Args:  cobra.ExactArgs(1),
		RunE:  runRecordsClear,
	}
)

// applyFlags layers explicitly set flags over the loaded configuration.
func applyFlags(cmd *cobra.Command, cfg *Config) {
	set := func(name string, apply func()) {
		if cmd.Flags().Changed(name) {
			apply()
		}
	}
	set("persona", func() { cfg.Persona = flagPersona })
	set("sphere", func() { cfg.Sphere = flagSphere })
	set("watch-list", func() { cfg.WatchList = flagWatchList })
	set("jetstream-host", func() { cfg.JetstreamHost = flagJetstream })
	set("prompt-dir", func() { cfg.PromptDir = flagPromptDir })
	set("depth", func() { cfg.ThreadDepth = flagDepth })
	set("log-level", func() { cfg.LogLevel = flagLogLevel })
	set("metrics-addr", func() { cfg.MetricsAddr = flagMetricsAddr })
	set("graph", func() { cfg.Graph.Enabled = flagGraph })
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "comind.yaml", "path to the YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "minimum log level (debug, info, warn, error)")

	consumeCmd.Flags().StringVar(&flagPersona, "persona", "", "perspective text interpolated into every prompt")
	consumeCmd.Flags().StringVar(&flagSphere, "sphere", "", "sphere title whose core record supplies the persona")
	consumeCmd.Flags().StringVar(&flagWatchList, "watch-list", "", "path to the watched accounts file")
	consumeCmd.Flags().StringVar(&flagJetstream, "jetstream-host", "", "jetstream subscribe URL")
	consumeCmd.Flags().StringVar(&flagPromptDir, "prompt-dir", "", "directory of persona templates overriding the embedded ones")
	consumeCmd.Flags().IntVar(&flagDepth, "depth", 0, "thread fetch depth (0 uses the server default)")
	consumeCmd.Flags().StringVar(&flagMetricsAddr, "metrics-addr", "", "address to serve Prometheus metrics on (empty disables)")
	consumeCmd.Flags().BoolVar(&flagGraph, "graph", false, "mirror records into Neo4j while consuming")

	recordsClearCmd.Flags().BoolVar(&flagForce, "force", false, "skip the confirmation prompt")

	graphCmd.AddCommand(graphSyncCmd, graphCleanupCmd)
	recordsCmd.AddCommand(recordsListCmd, recordsClearCmd)
	rootCmd.AddCommand(consumeCmd, graphCmd, recordsCmd)
}

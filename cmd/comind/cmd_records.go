// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/comind/services/atproto"
)

func runRecordsList(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := newLogger("records")
	defer logger.Close()

	client, sessions, err := login(ctx, logger)
	if err != nil {
		return err
	}
	defer sessions.Close()

	store := atproto.NewStore(client, logger)
	records, err := store.ListAll(ctx, args[0])
	if err != nil {
		return err
	}

	for _, rec := range records {
		fmt.Println(rec.URI)
		out, err := yaml.Marshal(rec.Value)
		if err != nil {
			return err
		}
		fmt.Println(indent(string(out), "  "))
	}
	fmt.Printf("%d records in %s\n", len(records), args[0])
	return nil
}

func runRecordsClear(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collection := args[0]
	if !flagForce && !confirm(fmt.Sprintf("Delete every record in %s?", collection)) {
		fmt.Println("aborted")
		return nil
	}

	logger := newLogger("records")
	defer logger.Close()

	client, sessions, err := login(ctx, logger)
	if err != nil {
		return err
	}
	defer sessions.Close()

	store := atproto.NewStore(client, logger)
	if err := store.Clear(ctx, collection); err != nil {
		return err
	}
	fmt.Printf("cleared %s\n", collection)
	return nil
}

func confirm(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}

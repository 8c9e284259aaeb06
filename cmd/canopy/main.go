// Copyright 2026 the Canopy Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command canopy is the CLI front end for the content-addressed
// filesystem snapshot engine: it initializes repositories and runs
// imports against them.
package main

import (
	"fmt"
	"os"

	"github.com/canopyfs/canopy/ingest"
	"github.com/canopyfs/canopy/repolayout"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	repoPath     string
	verboseCount int
	log          = logrus.New()
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "canopy",
		Short: "content-addressed filesystem snapshot toolkit",
	}
	root.PersistentFlags().StringVarP(&repoPath, "repo", "r", "repo", "repository directory")
	root.PersistentFlags().CountVarP(&verboseCount, "verbose", "v", "increase log verbosity (repeatable)")
	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		applyVerbosity()
	}

	root.AddCommand(newInitCmd())
	root.AddCommand(newImportCmd())
	return root
}

func applyVerbosity() {
	switch {
	case verboseCount >= 2:
		log.SetLevel(logrus.DebugLevel)
	case verboseCount == 1:
		log.SetLevel(logrus.InfoLevel)
	default:
		log.SetLevel(logrus.WarnLevel)
	}
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "create a new, empty repository",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := repolayout.Init(repoPath); err != nil {
				return err
			}
			log.WithField("repo", repoPath).Info("initialized repository")
			return nil
		},
	}
}

func newImportCmd() *cobra.Command {
	var sameDevice bool
	var ignoreErrors bool

	cmd := &cobra.Command{
		Use:   "import PATH",
		Short: "snapshot a filesystem tree into the repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := repolayout.Validate(repoPath); err != nil {
				return fmt.Errorf("repository %q is not valid: %w", repoPath, err)
			}

			result, err := ingest.Import(args[0], repoPath, sameDevice, ignoreErrors, log)
			if err != nil {
				return err
			}
			if result.Errors != nil {
				log.WithField("count", len(result.Errors.Errors)).Warn("import completed with entry errors")
			}
			fmt.Println(result.LayerHash)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&sameDevice, "same-device", "s", false, "do not traverse across block devices")
	cmd.Flags().BoolVar(&ignoreErrors, "ignore-errors", false, "continue past per-entry errors instead of stopping the walk")
	return cmd
}

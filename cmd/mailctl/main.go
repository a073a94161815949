// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Serve-evidence mailer: operator CLI
//
// mailctl runs the mail pipeline against a JSON payload file, either as a
// dry run that prints the composed message or as a real send.
//
// Usage:
//
//	mailctl compose payload.json
//	mailctl send --config config.yaml payload.json
package main

import (
	"log/slog"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	verbose    bool
}

func NewMailctlCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:          "mailctl",
		Short:        "Compose and send serve-evidence emails",
		SilenceUsage: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			setupLogging(opts.verbose)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		"config file (default: $CONFIG_PATH or /app/config/config.yaml)")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false,
		"enable debug logging")

	cmd.AddCommand(
		newComposeCommand(opts),
		newSendCommand(opts),
	)

	return cmd
}

func main() {
	cmd := NewMailctlCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogging(verbose bool) {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
	})
	if verbose {
		logger.SetLevel(log.DebugLevel)
	} else {
		logger.SetLevel(log.InfoLevel)
	}
	slog.SetDefault(slog.New(logger))
}

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

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/justlegal/serve-mailer/internal/config"
	"github.com/justlegal/serve-mailer/internal/pipeline"
)

func newComposeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "compose <payload.json|->",
		Short: "Print the composed message without sending it",
		Args:  cobra.ExactArgs(1),
		Example: `  mailctl compose payload.json
  cat payload.json | mailctl compose -`,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readPayload(cmd, args[0])
			if err != nil {
				return err
			}

			rt, err := buildComposer(cmd, opts)
			if err != nil {
				return err
			}
			defer rt.Close()

			msg, err := rt.Pipeline.Compose(cmd.Context(), data)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), msg)
		},
	}
}

func newSendCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "send <payload.json|->",
		Short: "Compose and deliver a message through the configured transport",
		Args:  cobra.ExactArgs(1),
		Example: `  mailctl send payload.json
  mailctl send --config /etc/serve-mailer/config.yaml payload.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readPayload(cmd, args[0])
			if err != nil {
				return err
			}

			rt, err := buildRuntime(cmd, opts)
			if err != nil {
				return err
			}
			defer rt.Close()

			resp := rt.Pipeline.Process(cmd.Context(), data)
			if err := writeJSON(cmd.OutOrStdout(), resp); err != nil {
				return err
			}
			if !resp.Success {
				return fmt.Errorf("send failed: %s", resp.Message)
			}
			return nil
		},
	}
}

func buildRuntime(cmd *cobra.Command, opts *rootOptions) (*pipeline.Runtime, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	return pipeline.Build(cmd.Context(), cfg)
}

// buildComposer skips the transport settings, so compose works as a dry
// run without delivery credentials.
func buildComposer(cmd *cobra.Command, opts *rootOptions) (*pipeline.Runtime, error) {
	cfg, err := readConfig(opts)
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateCompose(); err != nil {
		return nil, err
	}
	return pipeline.BuildComposer(cmd.Context(), cfg)
}

func loadConfig(opts *rootOptions) (*config.Config, error) {
	if opts.configPath != "" {
		return config.LoadFile(opts.configPath, true)
	}
	return config.Load()
}

func readConfig(opts *rootOptions) (*config.Config, error) {
	if opts.configPath != "" {
		return config.ReadFile(opts.configPath, true)
	}
	return config.Read()
}

func readPayload(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("read payload from stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read payload %s: %w", path, err)
	}
	return data, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

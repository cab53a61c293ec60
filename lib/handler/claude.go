// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// Runner invokes the external processing step for one event prompt.
type Runner interface {
	// Available reports whether the runner can execute at all. An
	// unavailable runner makes the handler skip invocations instead
	// of failing events.
	Available() bool

	// Run executes the processing step with the given prompt,
	// blocking until it completes.
	Run(ctx context.Context, prompt string) error
}

// ClaudeRunner runs the claude CLI with stream-json output. Stdout is
// parsed line by line and summarized to the output writer; verbose
// mode passes the raw stream through untouched.
type ClaudeRunner struct {
	// Binary is the claude executable. Defaults to the CLAUDE_BINARY
	// environment variable, then "claude".
	Binary string

	// Verbose passes raw stream-json output through instead of
	// summarizing it.
	Verbose bool

	// Output receives the summarized (or raw) claude output.
	// Defaults to os.Stdout.
	Output io.Writer

	Logger *slog.Logger
}

// NewClaudeRunner creates a runner with defaults resolved.
func NewClaudeRunner(verbose bool, logger *slog.Logger) *ClaudeRunner {
	binary := os.Getenv("CLAUDE_BINARY")
	if binary == "" {
		binary = "claude"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ClaudeRunner{
		Binary:  binary,
		Verbose: verbose,
		Output:  os.Stdout,
		Logger:  logger,
	}
}

// Available checks that the claude binary can be resolved.
func (r *ClaudeRunner) Available() bool {
	_, err := exec.LookPath(r.Binary)
	return err == nil
}

// Run spawns claude with the prompt and consumes its stream-json
// output until the process exits.
func (r *ClaudeRunner) Run(ctx context.Context, prompt string) error {
	arguments := []string{
		"--output-format", "stream-json",
		"--verbose",
		"--include-partial-messages",
		"--allowed-tools", "SlashCommand",
		"-p", prompt,
	}
	command := exec.CommandContext(ctx, r.Binary, arguments...)
	command.Stderr = os.Stderr

	output := r.Output
	if output == nil {
		output = os.Stdout
	}

	if r.Verbose {
		command.Stdout = output
		if err := command.Run(); err != nil {
			return fmt.Errorf("running %s: %w", r.Binary, err)
		}
		return nil
	}

	stdout, err := command.StdoutPipe()
	if err != nil {
		return fmt.Errorf("creating stdout pipe: %w", err)
	}
	if err := command.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", r.Binary, err)
	}

	summarizeStream(stdout, output)

	if err := command.Wait(); err != nil {
		return fmt.Errorf("%s exited: %w", r.Binary, err)
	}
	return nil
}

// summarizeStream reads stream-json lines and writes a readable
// summary: session init details, assistant text as it streams, and
// tool invocations. Lines that are not valid JSON are skipped.
func summarizeStream(stdout io.Reader, output io.Writer) {
	scanner := bufio.NewScanner(stdout)
	// Tool results can carry large file contents on a single line.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lastMessageID := ""
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		lastMessageID = summarizeLine(line, output, lastMessageID)
	}
}

// summarizeLine handles one stream-json line, returning the assistant
// message ID for message-boundary tracking.
func summarizeLine(line []byte, output io.Writer, lastMessageID string) string {
	var envelope struct {
		Type    string `json:"type"`
		Subtype string `json:"subtype"`
	}
	if err := json.Unmarshal(line, &envelope); err != nil {
		return lastMessageID
	}

	switch envelope.Type {
	case "system":
		if envelope.Subtype != "init" {
			return lastMessageID
		}
		var init struct {
			Model          string   `json:"model"`
			PermissionMode string   `json:"permissionMode"`
			Tools          []string `json:"tools"`
			SlashCommands  []string `json:"slash_commands"`
		}
		if err := json.Unmarshal(line, &init); err != nil {
			return lastMessageID
		}
		if init.Model != "" {
			fmt.Fprintf(output, "Model: %s\n", init.Model)
		}
		if init.PermissionMode != "" {
			fmt.Fprintf(output, "Permission mode: %s\n", init.PermissionMode)
		}
		if len(init.Tools) > 0 {
			fmt.Fprintf(output, "Available tools: %s\n", strings.Join(init.Tools, ", "))
		}
		if len(init.SlashCommands) > 0 {
			fmt.Fprintf(output, "Available slash commands: %s\n", strings.Join(init.SlashCommands, ", "))
		}
		return lastMessageID

	case "assistant":
		var event struct {
			Message struct {
				ID      string `json:"id"`
				Content []struct {
					Type  string          `json:"type"`
					Text  string          `json:"text"`
					Name  string          `json:"name"`
					Input json.RawMessage `json:"input"`
				} `json:"content"`
			} `json:"message"`
		}
		if err := json.Unmarshal(line, &event); err != nil {
			return lastMessageID
		}
		if lastMessageID != "" && event.Message.ID != lastMessageID {
			fmt.Fprintln(output)
		}
		for _, item := range event.Message.Content {
			switch item.Type {
			case "text":
				fmt.Fprint(output, item.Text)
			case "tool_use":
				fmt.Fprintf(output, "\n[Tool: %s]\n", item.Name)
				if len(item.Input) > 0 {
					fmt.Fprintf(output, "Input: %s\n", item.Input)
				}
			}
		}
		return event.Message.ID

	default:
		return lastMessageID
	}
}

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"
)

// printOutput writes v as JSON when --json or --jq is set, otherwise calls human.
func printOutput(c *cli.Context, v any, human func(w io.Writer)) error {
	return writeOutput(os.Stdout, c.String("jq"), c.Bool("json"), v, human)
}

func writeOutput(w io.Writer, filter string, jsonOutput bool, v any, human func(w io.Writer)) error {
	if filter != "" {
		return runJQ(w, filter, v)
	}
	if jsonOutput || human == nil {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	human(w)
	return nil
}

// runJQ evaluates filter against v and prints each result on its own line.
func runJQ(w io.Writer, filter string, v any) error {
	query, err := gojq.Parse(filter)
	if err != nil {
		return fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
	}

	// gojq only understands generic JSON values.
	input, err := toGeneric(v)
	if err != nil {
		return err
	}

	iter := code.Run(input)
	for {
		result, ok := iter.Next()
		if !ok {
			return nil
		}
		if err, isErr := result.(error); isErr {
			return fmt.Errorf("jq filter error: %w", err)
		}
		if s, isString := result.(string); isString {
			fmt.Fprintln(w, s)
			continue
		}
		out, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("failed to encode jq result: %w", err)
		}
		fmt.Fprintln(w, string(out))
	}
}

func toGeneric(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode output: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode output: %w", err)
	}
	return out, nil
}

// newLogger returns a text logger on stderr so stdout stays machine-readable.
func newLogger(c *cli.Context) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.String("log-level"))); err != nil {
		level = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

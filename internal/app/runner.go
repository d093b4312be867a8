package app

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"escrowd/internal/parser"
)

// Runner handles the main read-parse-execute-output loop.
type Runner struct {
	console *Console
	reader  *bufio.Scanner
	writer  io.Writer
}

// NewRunner creates a new console runner.
func NewRunner(console *Console, input io.Reader, output io.Writer) *Runner {
	return &Runner{
		console: console,
		reader:  bufio.NewScanner(input),
		writer:  output,
	}
}

// Run executes the main loop until EXIT is received or EOF is reached.
func (r *Runner) Run(ctx context.Context) error {
	for r.reader.Scan() {
		line := strings.TrimSpace(r.reader.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		cmd, err := parser.Parse(line)
		if err != nil {
			fmt.Fprintf(r.writer, "ERROR %s\n", err)
			continue
		}

		if cmd.Name == "EXIT" {
			return nil
		}

		result, err := r.console.Execute(ctx, cmd)
		if err != nil {
			fmt.Fprintf(r.writer, "ERROR %s\n", err)
			continue
		}
		if result != "" {
			fmt.Fprintln(r.writer, result)
		}
	}

	if err := r.reader.Err(); err != nil {
		return fmt.Errorf("error reading input: %w", err)
	}
	return nil
}

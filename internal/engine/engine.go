// Package engine wires the Transaction Manager to a line-oriented input
// stream: one command per line, fully dispatched before the next line is
// read, matching the single-threaded, command-driven concurrency model
// this design calls for (no goroutines, no mutexes in the core packages).
package engine

import (
	"bufio"
	"fmt"
	"io"

	"github.com/lattice-db/rce/internal/command"
	"github.com/lattice-db/rce/internal/txn"
)

// Options configures the engine ambient behavior that does not belong to
// the fixed topology.
type Options struct {
	Debug bool
}

// New builds a ready-to-run Transaction Manager, writing its stdout
// protocol lines to out.
func New(out io.Writer, opts Options) *txn.Manager {
	return txn.NewManager(out, opts.Debug)
}

// Run reads r line by line, tokenizing and dispatching each one to m,
// until EOF or a scan error.
func Run(m *txn.Manager, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		m.Operate(command.Tokenize(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read command stream: %w", err)
	}
	return nil
}

// Package confirm asks the user before destructive or outward-facing operations.
package confirm

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// Confirmer approves or declines an action described by prompt
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) (bool, error)
}

// AutoYes approves everything. Used for --yes.
type AutoYes struct{}

// Confirm implements Confirmer
func (AutoYes) Confirm(ctx context.Context, prompt string) (bool, error) {
	return true, ctx.Err()
}

// Prompt asks on a terminal and reads a yes/no answer
type Prompt struct {
	in  *bufio.Reader
	out io.Writer
}

// NewPrompt creates a prompt reading answers from in and writing to out
func NewPrompt(in io.Reader, out io.Writer) *Prompt {
	return &Prompt{in: bufio.NewReader(in), out: out}
}

// Confirm implements Confirmer. Anything other than y/yes declines, as does
// end of input.
func (p *Prompt) Confirm(ctx context.Context, prompt string) (bool, error) {
	fmt.Fprintf(p.out, "%s [y/N]: ", prompt)

	type answer struct {
		line string
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		line, err := p.in.ReadString('\n')
		ch <- answer{line, err}
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(p.out)
		return false, ctx.Err()
	case a := <-ch:
		if a.err != nil && a.err != io.EOF {
			return false, fmt.Errorf("failed to read answer: %w", a.err)
		}
		switch strings.ToLower(strings.TrimSpace(a.line)) {
		case "y", "yes":
			return true, nil
		default:
			return false, nil
		}
	}
}

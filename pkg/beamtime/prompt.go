package beamtime

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Prompter asks the operator a question and returns the answer.
type Prompter interface {
	Ask(question string) (string, error)
}

// LinePrompter prompts on w and reads one line per answer from r.
type LinePrompter struct {
	r *bufio.Reader
	w io.Writer
}

// NewLinePrompter returns a prompter for a terminal.
func NewLinePrompter(r io.Reader, w io.Writer) *LinePrompter {
	return &LinePrompter{r: bufio.NewReader(r), w: w}
}

// Ask writes question and reads the answer. End of input counts as declining.
func (p *LinePrompter) Ask(question string) (string, error) {
	fmt.Fprint(p.w, question)
	line, err := p.r.ReadString('\n')
	if errors.Is(err, io.EOF) && line == "" {
		return "", fmt.Errorf("%w: no answer to %q", ErrAborted, strings.TrimSpace(question))
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read answer: %w", err)
	}
	return strings.TrimSpace(line), nil
}

package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Confirmer asks the operator a yes/no question.
type Confirmer interface {
	Confirm(question string) (bool, error)
}

// Terminal reads answers line by line from in.
type Terminal struct {
	in  *bufio.Reader
	out io.Writer
}

func NewTerminal(in io.Reader, out io.Writer) *Terminal {
	return &Terminal{in: bufio.NewReader(in), out: out}
}

// Confirm accepts y or yes in any case. Anything else, including an empty
// line or a closed input, is a no.
func (t *Terminal) Confirm(question string) (bool, error) {
	if _, err := fmt.Fprint(t.out, question+" "); err != nil {
		return false, err
	}
	line, err := t.in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("read answer: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

// Fixed answers every question the same way.
type Fixed bool

func (f Fixed) Confirm(string) (bool, error) { return bool(f), nil }

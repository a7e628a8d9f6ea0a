// Package console implements the line-oriented operator console shared by
// the agency and carrier processes.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Console reads operator input one line at a time and serializes output
// written from several goroutines.
type Console struct {
	in  io.Reader
	out io.Writer

	mu sync.Mutex

	start sync.Once
	lines chan string
	err   error
}

func New(in io.Reader, out io.Writer) *Console {
	return &Console{
		in:    in,
		out:   out,
		lines: make(chan string),
	}
}

// Println writes a line of operator output.
func (c *Console) Println(a ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, a...)
}

// Printf writes formatted operator output followed by a newline.
func (c *Console) Printf(format string, a ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format+"\n", a...)
}

// Prompt prints msg and waits for the next line.
func (c *Console) Prompt(ctx context.Context, msg string) (string, error) {
	c.Println(msg)
	return c.ReadLine(ctx)
}

// ReadLine waits for the next input line with surrounding whitespace
// removed. It returns io.EOF once input is exhausted, or the cause of ctx
// being done.
func (c *Console) ReadLine(ctx context.Context) (string, error) {
	c.start.Do(func() { go c.scan() })

	select {
	case <-ctx.Done():
		return "", context.Cause(ctx)
	case line, ok := <-c.lines:
		if !ok {
			return "", c.err
		}
		return line, nil
	}
}

func (c *Console) scan() {
	scanner := bufio.NewScanner(c.in)
	for scanner.Scan() {
		c.lines <- strings.TrimSpace(scanner.Text())
	}

	c.err = scanner.Err()
	if c.err == nil {
		c.err = io.EOF
	}
	close(c.lines)
}

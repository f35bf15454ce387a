package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/dokzlo13/huestatus/internal/capability"
)

// terminalPrompter drives setup from a terminal.
type terminalPrompter struct {
	lines <-chan string
	out   io.Writer
}

func newTerminalPrompter(in io.Reader, out io.Writer) *terminalPrompter {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return &terminalPrompter{lines: lines, out: out}
}

// readLine waits for one line of input; closed input reads as empty.
func (p *terminalPrompter) readLine(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-p.lines:
		if !ok {
			return "", nil
		}
		return strings.TrimSpace(line), nil
	}
}

func (p *terminalPrompter) ManualAddress(ctx context.Context, cause error) (string, error) {
	fmt.Fprintln(p.out, "Could not find a bridge automatically.")
	fmt.Fprint(p.out, "Enter the bridge IP address (empty to give up): ")
	return p.readLine(ctx)
}

func (p *terminalPrompter) WaitForPress(ctx context.Context) error {
	fmt.Fprintln(p.out, "Press the link button on the bridge, then press Enter.")
	_, err := p.readLine(ctx)
	return err
}

func (p *terminalPrompter) SelectLights(ctx context.Context, candidates []capability.LightRef) ([]capability.LightRef, error) {
	fmt.Fprintf(p.out, "Found %d suitable lights:\n", len(candidates))
	for i, l := range candidates {
		fmt.Fprintf(p.out, "  %2d) %s [%s, %s]\n", i+1, l.Name, l.Type, capability.Representation(l))
	}

	for {
		fmt.Fprint(p.out, "Lights to use (e.g. 1,3; empty for all): ")
		answer, err := p.readLine(ctx)
		if err != nil {
			return nil, err
		}
		selected, err := parseSelection(answer, candidates)
		if err == nil {
			return selected, nil
		}
		fmt.Fprintf(p.out, "%v\n", err)
	}
}

// parseSelection parses a comma or space separated list of 1-based
// indexes. An empty answer or "all" selects every candidate.
func parseSelection(answer string, candidates []capability.LightRef) ([]capability.LightRef, error) {
	answer = strings.TrimSpace(strings.ToLower(answer))
	if answer == "" || answer == "all" {
		return candidates, nil
	}

	fields := strings.FieldsFunc(answer, func(r rune) bool { return r == ',' || r == ' ' })
	seen := make(map[int]bool, len(fields))
	selected := make([]capability.LightRef, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil || n < 1 || n > len(candidates) {
			return nil, fmt.Errorf("invalid choice %q: pick numbers between 1 and %d", f, len(candidates))
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		selected = append(selected, candidates[n-1])
	}
	return selected, nil
}

// autoPrompter answers setup without input: discovery failures are final,
// pairing starts polling at once and every suitable light is used.
type autoPrompter struct {
	out      io.Writer
	deadline time.Duration
}

func (p *autoPrompter) ManualAddress(ctx context.Context, cause error) (string, error) {
	return "", nil
}

func (p *autoPrompter) WaitForPress(ctx context.Context) error {
	fmt.Fprintf(p.out, "Press the link button on the bridge within %s.\n", p.deadline)
	return ctx.Err()
}

func (p *autoPrompter) SelectLights(ctx context.Context, candidates []capability.LightRef) ([]capability.LightRef, error) {
	fmt.Fprintf(p.out, "Using all %d suitable lights.\n", len(candidates))
	return candidates, nil
}

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/MarkoPoloResearchLab/dropclaim/pkg/claim"
	"github.com/MarkoPoloResearchLab/dropclaim/pkg/remote"
)

var errEmptyInput = errors.New("no input")

// terminalPrompt reads single lines from the terminal. It serves both as the login
// code source and as the code scanner.
type terminalPrompt struct {
	mutex  sync.Mutex
	reader *bufio.Reader
	out    io.Writer
}

func newPrompt(in io.Reader, out io.Writer) *terminalPrompt {
	return &terminalPrompt{reader: bufio.NewReader(in), out: out}
}

func (prompt *terminalPrompt) LoginCode(ctx context.Context) (string, error) {
	return prompt.readLine(ctx, "login code: ")
}

func (prompt *terminalPrompt) Scan(ctx context.Context) (string, error) {
	line, err := prompt.readLine(ctx, "code: ")
	if err != nil {
		return "", fmt.Errorf("%w: %w", claim.ErrScannerUnavailable, err)
	}
	return line, nil
}

func (prompt *terminalPrompt) readLine(ctx context.Context, label string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	prompt.mutex.Lock()
	defer prompt.mutex.Unlock()
	fmt.Fprint(prompt.out, label)
	line, err := prompt.reader.ReadString('\n')
	line = strings.TrimSpace(line)
	if line != "" {
		return line, nil
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return "", errEmptyInput
}

// fixedLocation is a Locator reporting coordinates given on the command line.
type fixedLocation remote.Coordinates

func (location fixedLocation) Locate(context.Context) (remote.Coordinates, error) {
	return remote.Coordinates(location), nil
}

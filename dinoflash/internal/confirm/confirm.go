// Copyright 2025 The Dinoflash Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package confirm asks the operator before irreversible actions.
package confirm

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Action describes what is about to be done to the device on Port.
type Action struct {
	Port string
	What string
}

func (a Action) String() string {
	if a.Port == "" {
		return a.What
	}
	return a.What + " on " + a.Port
}

type Confirmer interface {
	Confirm(ctx context.Context, a Action) bool
}

type Func func(ctx context.Context, a Action) bool

func (f Func) Confirm(ctx context.Context, a Action) bool {
	return f(ctx, a)
}

// Always answers every request with its own value.
type Always bool

func (y Always) Confirm(context.Context, Action) bool {
	return bool(y)
}

// Answer is what the operator must type to confirm.
const Answer = "YES"

var ErrNotTerminal = errors.New("confirm: standard input is not a terminal, use --yes")

// Prompt asks on a terminal. Concurrent requests are asked one at a time.
type Prompt struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

// NewPrompt returns a prompt reading answers from in. It fails if in is not
// an interactive terminal.
func NewPrompt(in *os.File, out io.Writer) (*Prompt, error) {
	if !term.IsTerminal(int(in.Fd())) {
		return nil, ErrNotTerminal
	}
	return newPrompt(in, out), nil
}

func newPrompt(in io.Reader, out io.Writer) *Prompt {
	return &Prompt{in: bufio.NewReader(in), out: out}
}

func (p *Prompt) Confirm(ctx context.Context, a Action) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ctx.Err() != nil {
		return false
	}
	fmt.Fprintf(p.out, "\n%s cannot be undone. Type %s to continue: ", a, Answer)
	s, err := p.in.ReadString('\n')
	if err != nil && s == "" {
		return false
	}
	return strings.TrimSpace(s) == Answer
}

package teleop

import (
	"context"
	"strings"
	"sync"

	"github.com/open-teleop/dashboard/domain/robot"
)

// Keyboard adapts key events from one client onto the dispatcher.
type Keyboard struct {
	d        *Dispatcher
	bindings map[string]robot.MoveCommand

	mu   sync.Mutex
	held map[string]bool
}

// NewKeyboard creates a keyboard with the given key to command bindings.
// Keys are matched case-insensitively.
func NewKeyboard(d *Dispatcher, bindings map[string]robot.MoveCommand) *Keyboard {
	b := make(map[string]robot.MoveCommand, len(bindings))
	for k, cmd := range bindings {
		b[strings.ToLower(k)] = cmd
	}
	return &Keyboard{d: d, bindings: b, held: make(map[string]bool)}
}

// KeyDown presses the bound command. Auto-repeat events and keys that are
// already down are ignored. Reports whether the key was handled.
func (k *Keyboard) KeyDown(ctx context.Context, key string, repeat bool) bool {
	key = strings.ToLower(key)
	cmd, ok := k.bindings[key]
	if !ok || repeat {
		return false
	}

	k.mu.Lock()
	if k.held[key] {
		k.mu.Unlock()
		return false
	}
	k.held[key] = true
	k.mu.Unlock()

	k.d.OnInput(ctx, cmd, true)
	return true
}

// KeyUp releases a bound key. It sends STOP even if another bound key is
// still down.
func (k *Keyboard) KeyUp(ctx context.Context, key string) bool {
	key = strings.ToLower(key)
	cmd, ok := k.bindings[key]
	if !ok {
		return false
	}

	k.mu.Lock()
	delete(k.held, key)
	k.mu.Unlock()

	k.d.OnInput(ctx, cmd, false)
	return true
}

// ReleaseAll sends one STOP if any key is down.
func (k *Keyboard) ReleaseAll(ctx context.Context) bool {
	k.mu.Lock()
	var cmd robot.MoveCommand
	for key := range k.held {
		cmd = k.bindings[key]
	}
	k.held = make(map[string]bool)
	k.mu.Unlock()

	if cmd == "" {
		return false
	}
	k.d.OnInput(ctx, cmd, false)
	return true
}

// ButtonPad adapts on-screen button events from one client.
type ButtonPad struct {
	d *Dispatcher

	mu   sync.Mutex
	held robot.MoveCommand
}

// NewButtonPad creates a button pad driving d.
func NewButtonPad(d *Dispatcher) *ButtonPad {
	return &ButtonPad{d: d}
}

// Press starts cmd.
func (b *ButtonPad) Press(ctx context.Context, cmd robot.MoveCommand) {
	b.mu.Lock()
	b.held = cmd
	b.mu.Unlock()
	b.d.OnInput(ctx, cmd, true)
}

// Release ends the press and sends STOP.
func (b *ButtonPad) Release(ctx context.Context, cmd robot.MoveCommand) {
	b.mu.Lock()
	b.held = ""
	b.mu.Unlock()
	b.d.OnInput(ctx, cmd, false)
}

// Leave is a pointer leaving cmd's button. It counts as a release only
// while cmd is the active command.
func (b *ButtonPad) Leave(ctx context.Context, cmd robot.MoveCommand) bool {
	if !b.d.Release(ctx, cmd) {
		return false
	}
	b.mu.Lock()
	if b.held == cmd {
		b.held = ""
	}
	b.mu.Unlock()
	return true
}

// ReleaseAll releases whatever this pad is holding.
func (b *ButtonPad) ReleaseAll(ctx context.Context) bool {
	b.mu.Lock()
	cmd := b.held
	b.held = ""
	b.mu.Unlock()

	if cmd == "" {
		return false
	}
	return b.d.Release(ctx, cmd)
}

// Package mailbox provides the single-slot handoff used between the
// receive and send tasks of one server connection.
package mailbox

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"filesync/internal/protocol"
)

// ErrClosed is returned by Take once the mailbox is closed and empty, and
// by Put after Close.
var ErrClosed = errors.New("mailbox closed")

// Mailbox holds at most one item. Put blocks while the slot is full and
// Take blocks while it is empty; neither polls. A Mailbox belongs to a
// single connection and must not be shared.
type Mailbox[T any] struct {
	slot      chan T
	closed    chan struct{}
	closeOnce sync.Once
}

func New[T any]() *Mailbox[T] {
	return &Mailbox[T]{
		slot:   make(chan T, 1),
		closed: make(chan struct{}),
	}
}

// Put moves the mailbox from empty to full, waiting for the slot if a
// previous item has not been taken yet.
func (m *Mailbox[T]) Put(ctx context.Context, item T) error {
	select {
	case <-m.closed:
		return ErrClosed
	default:
	}

	select {
	case m.slot <- item:
		return nil
	case <-m.closed:
		return ErrClosed
	case <-ctx.Done():
		return waitError(ctx, "put")
	}
}

// Take moves the mailbox from full to empty, waiting for an item if none
// is pending. An item put before Close is still delivered.
func (m *Mailbox[T]) Take(ctx context.Context) (T, error) {
	var zero T
	select {
	case item := <-m.slot:
		return item, nil
	case <-m.closed:
		select {
		case item := <-m.slot:
			return item, nil
		default:
			return zero, ErrClosed
		}
	case <-ctx.Done():
		return zero, waitError(ctx, "take")
	}
}

// Close wakes any blocked Take. It is safe to call more than once.
func (m *Mailbox[T]) Close() {
	m.closeOnce.Do(func() { close(m.closed) })
}

func waitError(ctx context.Context, op string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("mailbox %s: %w: %w", op, protocol.ErrTimeout, ctx.Err())
	}
	return fmt.Errorf("mailbox %s: %w", op, ctx.Err())
}

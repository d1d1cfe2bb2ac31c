package ingest

import "github.com/pkg/errors"

// Batcher groups items into batches of maxItems. A batch is handed to the callback as soon as it
// is full; Flush hands over whatever is left. Batches are never empty and preserve the order in
// which items were added. Each batch is a fresh slice so the callback may retain it.
type Batcher[T any] struct {
	maxItems int
	callback func([]T) error
	buffer   []T
}

func NewBatcher[T any](maxItems int, callback func([]T) error) (*Batcher[T], error) {
	if maxItems <= 0 {
		return nil, errors.Errorf("batch capacity must be positive, got %d", maxItems)
	}
	return &Batcher[T]{
		maxItems: maxItems,
		callback: callback,
		buffer:   make([]T, 0, maxItems),
	}, nil
}

// Add appends value to the current batch, emitting the batch if it is now full.
// Any error from the callback is returned unchanged.
func (b *Batcher[T]) Add(value T) error {
	b.buffer = append(b.buffer, value)
	if len(b.buffer) == b.maxItems {
		return b.emit()
	}
	return nil
}

// Flush emits the partially filled batch, if any.
func (b *Batcher[T]) Flush() error {
	if len(b.buffer) == 0 {
		return nil
	}
	return b.emit()
}

// Pending returns the number of items added since the last emission.
func (b *Batcher[T]) Pending() int {
	return len(b.buffer)
}

func (b *Batcher[T]) emit() error {
	batch := b.buffer
	b.buffer = make([]T, 0, b.maxItems)
	return b.callback(batch)
}

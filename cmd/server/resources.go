package main

import (
	"errors"
	"fmt"
)

type closer struct {
	name string
	fn   func() error
}

// resources releases what run opened, most recent first, on every return
// path.
type resources struct {
	closers []closer
}

func (r *resources) add(name string, fn func() error) {
	r.closers = append(r.closers, closer{name: name, fn: fn})
}

func (r *resources) close() error {
	var err error
	for i := len(r.closers) - 1; i >= 0; i-- {
		c := r.closers[i]
		if cerr := c.fn(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("close %s: %w", c.name, cerr))
		}
	}
	r.closers = nil
	return err
}

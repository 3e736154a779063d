// Copyright (C) 2025 The FARFAN Project
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package registry maps (class, method) keys to typed analytical methods.
//
// The registry replaces dynamic string-based class resolution with a static
// table populated at startup. Executor contracts are checked against it at
// load time, so a contract referencing an unregistered pair fails before
// any question executes.
//
// Thread Safety:
//
//	Registry is safe for concurrent use via a read-write mutex.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/THEBLESSMAN867/farfan/engine/chunks"
	"github.com/THEBLESSMAN867/farfan/engine/document"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrNilMethod is returned when attempting to register a nil function.
	ErrNilMethod = errors.New("method must not be nil")

	// ErrAlreadyRegistered is returned on a duplicate (class, method) key.
	ErrAlreadyRegistered = errors.New("method already registered")

	// ErrNotRegistered is returned when resolving an unknown pair.
	ErrNotRegistered = errors.New("method not registered")
)

// -----------------------------------------------------------------------------
// Types
// -----------------------------------------------------------------------------

// Key identifies one analytical method within its class.
type Key struct {
	Class  string
	Method string
}

// String returns "Class.Method".
func (k Key) String() string {
	return k.Class + "." + k.Method
}

// Input is the read-only bundle handed to a method invocation.
type Input struct {
	// Document is the analyzable document view. Never nil.
	Document *document.Document

	// Chunk is the routed chunk, nil for whole-document methods.
	Chunk *chunks.Chunk

	// QuestionID identifies the micro-question being answered.
	QuestionID string

	// BaseSlot is the question's canonical base slot.
	BaseSlot string

	// Params carries the contract-declared method parameters.
	Params map[string]any

	// Signals carries contextual signals injected by the dispatcher.
	Signals map[string]any
}

// MethodFunc is one registered analytical method. It returns a raw output
// mapping consumed by evidence assembly.
type MethodFunc func(ctx context.Context, in *Input) (map[string]any, error)

// -----------------------------------------------------------------------------
// Registry
// -----------------------------------------------------------------------------

// Registry is the static (class, method) table.
type Registry struct {
	mu      sync.RWMutex
	methods map[Key]MethodFunc
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{methods: make(map[Key]MethodFunc)}
}

// Register adds a method under its (class, method) key.
//
// Outputs:
//   - error: nil on success, ErrNilMethod for a nil function,
//     ErrAlreadyRegistered for a duplicate key.
//
// Thread Safety: Safe for concurrent use.
func (r *Registry) Register(class, method string, fn MethodFunc) error {
	if fn == nil {
		return fmt.Errorf("%w: %s.%s", ErrNilMethod, class, method)
	}
	if class == "" || method == "" {
		return fmt.Errorf("registry: empty class or method name")
	}

	key := Key{Class: class, Method: method}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.methods[key]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, key)
	}
	r.methods[key] = fn
	return nil
}

// MustRegister registers a method and panics on error. Startup only.
func (r *Registry) MustRegister(class, method string, fn MethodFunc) {
	if err := r.Register(class, method, fn); err != nil {
		panic(fmt.Sprintf("registry: failed to register %s.%s: %v", class, method, err))
	}
}

// Resolve returns the method for a key.
//
// Outputs:
//   - MethodFunc: The registered function.
//   - error: ErrNotRegistered (wrapped with the key) when absent.
func (r *Registry) Resolve(class, method string) (MethodFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, ok := r.methods[Key{Class: class, Method: method}]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrNotRegistered, class, method)
	}
	return fn, nil
}

// Has reports whether a (class, method) pair is registered.
func (r *Registry) Has(class, method string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.methods[Key{Class: class, Method: method}]
	return ok
}

// Keys returns all registered keys in sorted order.
func (r *Registry) Keys() []Key {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]Key, 0, len(r.methods))
	for k := range r.methods {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Class != keys[j].Class {
			return keys[i].Class < keys[j].Class
		}
		return keys[i].Method < keys[j].Method
	})
	return keys
}

// Len returns the number of registered methods.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.methods)
}

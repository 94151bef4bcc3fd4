// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Phira MP Contributors

package engine

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// Guest entry points invoked around the plugin lifecycle. Both are
// optional exports.
const (
	guestStart = "start"
	guestStop  = "stop"
)

// readRetryBase paces retries of the module file read. Hot swaps can
// briefly expose a partially written file.
const readRetryBase = 50 * time.Millisecond

// WASMEngine executes plugins as WebAssembly modules via wazero.
type WASMEngine struct {
	mu      sync.Mutex
	runtime wazero.Runtime
	logger  *slog.Logger
}

// NewWASMEngine creates a WASM engine. The wazero runtime is created
// lazily on first Instantiate.
func NewWASMEngine(logger *slog.Logger) *WASMEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &WASMEngine{logger: logger}
}

// Instantiate reads the module file and instantiates it. The file read is
// retried briefly to ride out a concurrent writer.
func (e *WASMEngine) Instantiate(ctx context.Context, path string) (Instance, error) {
	wasmBytes, err := readModuleFile(ctx, path)
	if err != nil {
		return nil, oops.Code(CodeIO).
			With("path", path).
			Wrapf(err, "reading module file")
	}

	e.mu.Lock()
	if e.runtime == nil {
		e.runtime = wazero.NewRuntime(ctx)
		wasi_snapshot_preview1.MustInstantiate(ctx, e.runtime)
	}
	runtime := e.runtime
	e.mu.Unlock()

	name := moduleName(path)
	mod, err := runtime.InstantiateWithConfig(ctx, wasmBytes,
		wazero.NewModuleConfig().WithName(name).WithStartFunctions())
	if err != nil {
		e.logger.Error("failed to instantiate module",
			"path", path,
			"error", err,
		)
		return nil, oops.Code(CodeRuntime).
			With("path", path).
			Wrapf(err, "instantiating module")
	}

	e.logger.Debug("module instantiated", "plugin", name, "path", path)
	return &wasmInstance{name: name, module: mod}, nil
}

// Close shuts down the runtime and every instance created from it.
// The engine must not be reused afterwards.
func (e *WASMEngine) Close(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.runtime == nil {
		return nil
	}
	err := e.runtime.Close(ctx)
	e.runtime = nil
	if err != nil {
		return oops.Code(CodeRuntime).Wrapf(err, "closing runtime")
	}
	return nil
}

// readModuleFile reads the file with a short fibonacci backoff so a
// half-written module during hot swap resolves into a complete read.
func readModuleFile(ctx context.Context, path string) ([]byte, error) {
	var data []byte
	backoff := retry.WithMaxRetries(5, retry.NewFibonacci(readRetryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var readErr error
		data, readErr = os.ReadFile(path)
		if readErr != nil {
			return retry.RetryableError(readErr)
		}
		if len(data) == 0 {
			return retry.RetryableError(oops.Errorf("module file is empty"))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

func moduleName(path string) string {
	base := filepath.Base(path)
	return base[:len(base)-len(filepath.Ext(base))]
}

// wasmInstance wraps one instantiated module. The mutex is held over
// guest calls so Cleanup cannot invalidate the module mid-execution.
type wasmInstance struct {
	mu     sync.Mutex
	name   string
	module api.Module
	closed bool
}

func (i *wasmInstance) Start(ctx context.Context) error {
	return i.callOptional(ctx, guestStart)
}

func (i *wasmInstance) Stop(ctx context.Context) error {
	return i.callOptional(ctx, guestStop)
}

// callOptional invokes a guest export if present. A missing export is
// not an error.
func (i *wasmInstance) callOptional(ctx context.Context, fn string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return nil
	}
	exported := i.module.ExportedFunction(fn)
	if exported == nil {
		return nil
	}
	if _, err := exported.Call(ctx); err != nil {
		return oops.Code(CodeRuntime).
			With("plugin", i.name).
			With("function", fn).
			Wrapf(err, "calling guest function")
	}
	return nil
}

func (i *wasmInstance) Cleanup(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return nil
	}
	i.closed = true
	if err := i.module.Close(ctx); err != nil {
		return oops.Code(CodeRuntime).
			With("plugin", i.name).
			Wrapf(err, "closing module")
	}
	return nil
}

func (i *wasmInstance) Call(ctx context.Context, fn string, args ...uint64) ([]uint64, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return nil, oops.Code(CodeRuntime).
			With("plugin", i.name).
			Errorf("instance is closed")
	}
	exported := i.module.ExportedFunction(fn)
	if exported == nil {
		return nil, ErrFunctionNotFound(i.name, fn)
	}
	out, err := exported.Call(ctx, args...)
	if err != nil {
		return nil, oops.Code(CodeRuntime).
			With("plugin", i.name).
			With("function", fn).
			Wrapf(err, "calling guest function")
	}
	return out, nil
}

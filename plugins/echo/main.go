// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Phira MP Contributors

// Package main implements an echo plugin for phira-mp.
// It echoes back any command payload the host hands it.
//
// Build with TinyGo:
//
//	tinygo build -o echo.wasm -target=wasi ./plugins/echo
//
// Drop echo.wasm and a manifest next to it into the plugin directory:
//
//	[plugin]
//	name = "echo"
//	version = "0.1.0"
//	abi_version = "1.0.0"
//
// The host calls the optional start/stop exports around the plugin
// lifecycle. handle_command receives a JSON request written into guest
// memory via alloc and returns the response pointer in the upper 32
// bits and its length in the lower 32 bits. Return 0 for no response.
package main

import (
	"encoding/json"
	"unsafe"
)

// Request is the JSON structure the host writes for a command call.
type Request struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
}

// Response is the JSON structure handed back to the host.
type Response struct {
	Output string `json:"output"`
	Error  string `json:"error,omitempty"`
}

// Memory management for WASM
var (
	allocOffset uint32 = 1024 // Start allocating after 1KB
	started     bool
)

//export alloc
func alloc(size uint32) uint32 {
	ptr := allocOffset
	allocOffset += size
	return ptr
}

//export start
func start() {
	started = true
}

//export stop
func stop() {
	started = false
}

//export handle_command
func handleCommand(ptr, length uint32) uint64 {
	if !started {
		return 0
	}

	// Read request JSON from memory
	reqJSON := make([]byte, length)
	for i := uint32(0); i < length; i++ {
		reqJSON[i] = *(*byte)(unsafe.Pointer(uintptr(ptr + i)))
	}

	var req Request
	if err := json.Unmarshal(reqJSON, &req); err != nil {
		return 0
	}

	out := "echo"
	for _, arg := range req.Args {
		out += " " + arg
	}

	respJSON, err := json.Marshal(Response{Output: out})
	if err != nil {
		return 0
	}

	// Allocate and write response to memory
	respPtr := alloc(uint32(len(respJSON)))
	for i, b := range respJSON {
		*(*byte)(unsafe.Pointer(uintptr(respPtr + uint32(i)))) = b
	}

	// Pack ptr (upper 32 bits) and len (lower 32 bits)
	return (uint64(respPtr) << 32) | uint64(len(respJSON))
}

func main() {}

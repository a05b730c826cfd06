// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the Fortress Rollback License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package protocol

import (
	"errors"
	"testing"
)

func TestRegistry_HandleValidation(t *testing.T) {
	r := NewRegistry(2)

	if err := r.AddLocal(0); err != nil {
		t.Fatalf("AddLocal(0): %v", err)
	}
	// Cada handle é registrado exatamente uma vez.
	if err := r.AddRemote(0, "10.0.0.2:7000"); !errors.Is(err, ErrHandleTaken) {
		t.Fatalf("duplicate handle = %v, want ErrHandleTaken", err)
	}
	if err := r.AddRemote(2, "10.0.0.2:7000"); !errors.Is(err, ErrHandleOutOfRange) {
		t.Fatalf("out of range handle = %v, want ErrHandleOutOfRange", err)
	}
	if r.Complete() {
		t.Fatalf("registry complete with missing handle")
	}
	if err := r.AddRemote(1, "10.0.0.2:7000"); err != nil {
		t.Fatalf("AddRemote(1): %v", err)
	}
	if !r.Complete() {
		t.Fatalf("registry incomplete with all handles")
	}
}

func TestRegistry_SpectatorHandlesAbovesNumPlayers(t *testing.T) {
	r := NewRegistry(2)
	h1 := r.AddSpectator("10.0.0.9:7000")
	h2 := r.AddSpectator("10.0.0.10:7000")
	if h1 != 2 || h2 != 3 {
		t.Fatalf("spectator handles = %d, %d; want 2, 3", h1, h2)
	}
}

func TestRegistry_RemoteEndpointsGroupedAndSorted(t *testing.T) {
	r := NewRegistry(3)
	r.AddLocal(1)
	r.AddRemote(2, "10.0.0.2:7000")
	r.AddRemote(0, "10.0.0.2:7000")

	endpoints := r.RemoteEndpoints()
	handles := endpoints["10.0.0.2:7000"]
	if len(handles) != 2 || handles[0] != 0 || handles[1] != 2 {
		t.Fatalf("grouped handles = %v, want [0 2]", handles)
	}
	addrs := r.RemoteAddrsSorted()
	if len(addrs) != 1 || addrs[0] != "10.0.0.2:7000" {
		t.Fatalf("sorted addrs = %v", addrs)
	}
	if locals := r.LocalHandles(); len(locals) != 1 || locals[0] != 1 {
		t.Fatalf("local handles = %v", locals)
	}
}

func TestRegistry_ConnectStatusTracking(t *testing.T) {
	r := NewRegistry(2)
	r.AddLocal(0)
	r.AddRemote(1, "10.0.0.2:7000")

	r.SetLastFrame(1, 10)
	r.SetLastFrame(1, 7) // nunca regride
	if got := r.ConnectStatus()[1].LastFrame; got != 10 {
		t.Fatalf("last frame = %d, want 10", got)
	}

	if err := r.SetDisconnected(1); err != nil {
		t.Fatalf("SetDisconnected: %v", err)
	}
	if !r.ConnectStatus()[1].Disconnected {
		t.Fatalf("player not marked disconnected")
	}
	if got := r.ConnectStatus()[1].LastFrame; got != 10 {
		t.Fatalf("disconnect clobbered last frame: %d", got)
	}
	if err := r.SetDisconnected(5); err == nil {
		t.Fatalf("out of range disconnect accepted")
	}
}

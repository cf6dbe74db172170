// Copyright (c) 2024-2026, Hyperware Authors. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package registry

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"gotest.tools/v3/assert"

	"github.com/hyperware-ai/hyperdrive/internal/pkg/address"
	"github.com/hyperware-ai/hyperdrive/internal/pkg/message"
)

var errTest = errors.New("trap")

type fakeEngine struct {
	mu      sync.Mutex
	alive   map[string]bool
	onTrap  map[string]func(error)
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{alive: make(map[string]bool), onTrap: make(map[string]func(error))}
}

func (f *fakeEngine) Instantiate(addr address.Address, handle string, onTrap func(error)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alive[addr.String()] = true
	f.onTrap[addr.String()] = onTrap
	return nil
}

func (f *fakeEngine) Kill(addr address.Address) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alive[addr.String()] = false
	return nil
}

func (f *fakeEngine) trap(addr address.Address, err error) {
	f.mu.Lock()
	fn := f.onTrap[addr.String()]
	f.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

func newTestRegistry(t *testing.T) (*Registry, *fakeEngine) {
	t.Helper()
	engine := newFakeEngine()
	db := filepath.Join(t.TempDir(), "registry.db")
	r, err := Open("node1.os", db, engine)
	assert.NilError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r, engine
}

// TestSpawnKillReSpawnPreservesCapabilities implements spec §8's
// round-trip property: Spawn(x); Kill(x.id); re-Spawn same parameters ->
// new process id, same caps. With no explicit name the id is a random
// stringification (spec §4.3), so it is vanishingly unlikely to collide.
func TestSpawnKillReSpawnPreservesCapabilities(t *testing.T) {
	r, _ := newTestRegistry(t)
	spawner := address.New("node1.os", address.ProcessID{Name: "spawner", Package: "app", Publisher: "alice.os"})

	grant := []message.Capability{{Issuer: spawner, Params: []byte(`"messaging"`)}}
	pid1, err := r.Spawn(spawner, SpawnParams{WasmBytesHandle: "/vfs/child.wasm", GrantCapabilities: grant}, nil)
	assert.NilError(t, err)

	assert.NilError(t, r.Kill(pid1))

	pid2, err := r.Spawn(spawner, SpawnParams{WasmBytesHandle: "/vfs/child.wasm", GrantCapabilities: grant}, nil)
	assert.NilError(t, err)
	assert.Assert(t, pid1 != pid2)

	p, ok := r.Get(pid2)
	assert.Assert(t, ok)
	assert.DeepEqual(t, p.Capabilities, grant)
}

func TestRandomNameOnEmptySpawn(t *testing.T) {
	r, _ := newTestRegistry(t)
	spawner := address.New("node1.os", address.ProcessID{Name: "spawner", Package: "app", Publisher: "alice.os"})
	pid, err := r.Spawn(spawner, SpawnParams{WasmBytesHandle: "/vfs/x.wasm"}, nil)
	assert.NilError(t, err)
	assert.Assert(t, pid.Name != "")
}

func TestRestartOnExitRespawnsWithSameID(t *testing.T) {
	r, engine := newTestRegistry(t)
	spawner := address.New("node1.os", address.ProcessID{Name: "spawner", Package: "app", Publisher: "alice.os"})
	params := SpawnParams{Name: "flaky", WasmBytesHandle: "/vfs/flaky.wasm", OnExit: OnExit{Kind: OnExitRestart}}
	pid, err := r.Spawn(spawner, params, nil)
	assert.NilError(t, err)

	addr := address.New("node1.os", pid)
	// Mark the instance dead first, so only a restart can bring it back.
	assert.NilError(t, engine.Kill(addr))
	engine.trap(addr, errTest)

	p, ok := r.Get(pid)
	assert.Assert(t, ok)
	assert.Equal(t, p.OnExit.Kind, OnExitRestart)
	// The first restart waits one backoff interval (under a second).
	alive := false
	for deadline := time.Now().Add(2 * time.Second); !alive && time.Now().Before(deadline); {
		time.Sleep(10 * time.Millisecond)
		engine.mu.Lock()
		alive = engine.alive[addr.String()]
		engine.mu.Unlock()
	}
	assert.Assert(t, alive)
}

func TestBoundedRestartDemotesToNone(t *testing.T) {
	r, engine := newTestRegistry(t)
	r.RestartMaxCrashes = 2
	spawner := address.New("node1.os", address.ProcessID{Name: "spawner", Package: "app", Publisher: "alice.os"})
	params := SpawnParams{Name: "loopy", WasmBytesHandle: "/vfs/loopy.wasm", OnExit: OnExit{Kind: OnExitRestart}}
	pid, err := r.Spawn(spawner, params, nil)
	assert.NilError(t, err)

	addr := address.New("node1.os", pid)
	// The second crash inside the window reaches the bound of 2; after the
	// demotion the process is not restarted, so no further trap can occur.
	for i := 0; i < 2; i++ {
		engine.trap(addr, errTest)
	}

	p, ok := r.Get(pid)
	assert.Assert(t, ok)
	assert.Equal(t, p.OnExit.Kind, OnExitNone)
}

func TestExitRequestsStampsSourceAndCapabilities(t *testing.T) {
	target := address.New("node1.os", address.ProcessID{Name: "notify", Package: "app", Publisher: "sys"})
	caps := []message.Capability{{Issuer: target, Params: []byte(`"messaging"`)}}
	p := &PersistedProcess{
		Capabilities: caps,
		OnExit: OnExit{
			Kind: OnExitRequests,
			Requests: []message.KernelMessage{
				{ID: 7, Target: target, Message: message.Message{Request: &message.Request{Body: []byte("bye")}}},
			},
		},
	}
	from := address.New("node1.os", address.ProcessID{Name: "dead", Package: "app", Publisher: "alice.os"})
	reqs := p.ExitRequests(from)
	assert.Equal(t, len(reqs), 1)
	assert.Equal(t, reqs[0].Source, from)
	assert.DeepEqual(t, reqs[0].Message.Request.Capabilities, caps)
}

func TestLoadRestoresPersistedProcesses(t *testing.T) {
	r, _ := newTestRegistry(t)
	spawner := address.New("node1.os", address.ProcessID{Name: "spawner", Package: "app", Publisher: "alice.os"})
	_, err := r.Spawn(spawner, SpawnParams{Name: "persisted", WasmBytesHandle: "/vfs/p.wasm"}, nil)
	assert.NilError(t, err)

	loaded, err := r.Load()
	assert.NilError(t, err)
	assert.Assert(t, len(loaded) >= 1)
}

package engine

import (
	"context"
	"testing"

	"wabridge/internal/ports"
)

func startInstance(t *testing.T, key string) (*Instance, *fakeFactory) {
	t.Helper()
	factory := &fakeFactory{}
	inst := NewInstance(Options{
		Key:       key,
		Store:     newMemStore(),
		Factory:   factory,
		Reconnect: ImmediateReconnect{},
		Logger:    testLogger(),
	})
	if err := inst.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	t.Cleanup(inst.Teardown)
	return inst, factory
}

func TestRegisterAndLookup(t *testing.T) {
	reg := NewRegistry(testLogger())
	inst, _ := startInstance(t, "acc1")

	reg.Register(inst)
	got, ok := reg.Lookup("acc1")
	if !ok || got != inst {
		t.Fatal("registered instance not found by key")
	}
	if _, ok := reg.Lookup("missing"); ok {
		t.Error("lookup of unknown key must fail")
	}
}

func TestRegisterReplacementTearsDownPrevious(t *testing.T) {
	reg := NewRegistry(testLogger())
	first, firstFactory := startInstance(t, "acc1")
	second, _ := startInstance(t, "acc1")

	reg.Register(first)
	reg.Register(second)

	if got, _ := reg.Lookup("acc1"); got != second {
		t.Fatal("replacement instance must win the key")
	}
	waitFor(t, "previous transport closed", firstFactory.client(0).wasClosed)
}

func TestRemoveDropsKey(t *testing.T) {
	reg := NewRegistry(testLogger())
	inst, _ := startInstance(t, "acc1")

	reg.Register(inst)
	reg.Remove("acc1")
	if _, ok := reg.Lookup("acc1"); ok {
		t.Error("removed key must not resolve")
	}
	if len(reg.Keys()) != 0 {
		t.Errorf("expected no keys, got %v", reg.Keys())
	}
}

func TestListActiveSummaries(t *testing.T) {
	reg := NewRegistry(testLogger())
	a, aFactory := startInstance(t, "acc1")
	b, _ := startInstance(t, "acc2")

	reg.Register(a)
	reg.Register(b)

	aFactory.client(0).push(ports.ConnectionUpdate{State: ports.StateOpen})
	waitFor(t, "acc1 online", a.Online)

	list := reg.ListActive()
	if len(list) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(list))
	}
	byKey := make(map[string]ports.InstanceSummary, len(list))
	for _, s := range list {
		byKey[s.Key] = s
	}
	if !byKey["acc1"].PhoneConnected {
		t.Error("acc1 must be reported connected")
	}
	if byKey["acc2"].PhoneConnected {
		t.Error("acc2 must be reported disconnected")
	}
}

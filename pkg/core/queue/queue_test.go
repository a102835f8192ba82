package queue

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"pe_ingest/pkg/core/discovery"
	"pe_ingest/pkg/core/ledger"
	"pe_ingest/pkg/logging"
	"pe_ingest/pkg/metricsreg"
)

type fakeSweep struct {
	paused  int
	resumed int
}

func (f *fakeSweep) Pause()  { f.paused++ }
func (f *fakeSweep) Resume() { f.resumed++ }

func testDeps(t *testing.T) (*logging.Logger, *metricsreg.Registry) {
	t.Helper()
	log := logging.New(logging.Options{Service: "test"})
	metrics := metricsreg.NewWithRegistry(t.Name(), prometheus.NewRegistry())
	return log, metrics
}

func TestDebounceCoalescesRapidEvents(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "doc.pdf")
	if err := os.WriteFile(p, []byte("content"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	log, metrics := testDeps(t)
	led := ledger.New(3)
	sweep := &fakeSweep{}
	d := New(150*time.Millisecond, 16, led, sweep, log, metrics)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan discovery.DiscoveryEvent, 10)
	go d.Run(ctx, events)

	for i := 0; i < 10; i++ {
		events <- discovery.DiscoveryEvent{Path: p, Cause: discovery.CauseModified, ObservedAt: time.Now()}
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case item := <-d.Work():
		if item.Path != p {
			t.Errorf("unexpected path %s", item.Path)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for settled WorkItem")
	}

	select {
	case item := <-d.Work():
		t.Fatalf("expected exactly one WorkItem, got a second: %+v", item)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestDebounceSkipsTerminalDuplicate(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "doc.pdf")
	if err := os.WriteFile(p, []byte("content"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	log, metrics := testDeps(t)
	led := ledger.New(3)
	rec, err := led.Register(p)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	// Drive it to a terminal Embedded state.
	must := func(e error) {
		if e != nil {
			t.Fatalf("transition: %v", e)
		}
	}
	h := rec.ContentHash
	must(led.Transition(h, "Discovered", "Queued", nil))
	must(led.Transition(h, "Queued", "Parsing", nil))
	must(led.Transition(h, "Parsing", "Extracting", nil))
	must(led.Transition(h, "Extracting", "Persisted", nil))
	must(led.Transition(h, "Persisted", "Embedded", nil))

	sweep := &fakeSweep{}
	d := New(50*time.Millisecond, 16, led, sweep, log, metrics)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := make(chan discovery.DiscoveryEvent, 1)
	go d.Run(ctx, events)

	events <- discovery.DiscoveryEvent{Path: p, Cause: discovery.CauseModified, ObservedAt: time.Now()}

	select {
	case item := <-d.Work():
		t.Fatalf("expected duplicate to be skipped, got WorkItem: %+v", item)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestBackpressurePausesSweepWhenFull(t *testing.T) {
	dir := t.TempDir()
	log, metrics := testDeps(t)
	led := ledger.New(3)
	sweep := &fakeSweep{}

	// Capacity 1: fill it, then a second settle should pause sweep.
	d := New(10*time.Millisecond, 1, led, sweep, log, metrics)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := make(chan discovery.DiscoveryEvent, 4)
	go d.Run(ctx, events)

	p1 := filepath.Join(dir, "a.pdf")
	p2 := filepath.Join(dir, "b.pdf")
	_ = os.WriteFile(p1, []byte("a"), 0o644)
	_ = os.WriteFile(p2, []byte("b"), 0o644)

	events <- discovery.DiscoveryEvent{Path: p1, Cause: discovery.CauseCreated}
	time.Sleep(50 * time.Millisecond)
	events <- discovery.DiscoveryEvent{Path: p2, Cause: discovery.CauseCreated}

	time.Sleep(100 * time.Millisecond)
	if sweep.paused == 0 {
		t.Errorf("expected Pause to be called at least once under backpressure")
	}

	<-d.Work()
	<-d.Work()
}

package engine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shaiso/Conveyor/internal/domain"
)

func TestVariables_SetGet(t *testing.T) {
	vars := NewVariables()
	vars.SetNodeOutputs("a", map[string]any{"value": 1})

	val, ok := vars.Output("a", "value")
	if !ok || val != 1 {
		t.Errorf("expected 1, got %v (ok=%v)", val, ok)
	}
	if _, ok := vars.Output("a", "missing"); ok {
		t.Error("missing port should not resolve")
	}
	if _, ok := vars.Output("b", "value"); ok {
		t.Error("missing node should not resolve")
	}

	// Повторная запись заменяет outputs целиком
	vars.SetNodeOutputs("a", map[string]any{"other": 2})
	if _, ok := vars.Output("a", "value"); ok {
		t.Error("replaced outputs should drop old ports")
	}
}

func TestVariables_CopySemantics(t *testing.T) {
	src := map[string]any{"value": 1}
	vars := NewVariables()
	vars.SetNodeOutputs("a", src)

	src["value"] = 99
	if val, _ := vars.Output("a", "value"); val != 1 {
		t.Error("stored outputs must not alias the caller's map")
	}

	got := vars.NodeOutputs("a")
	got["value"] = 77
	if val, _ := vars.Output("a", "value"); val != 1 {
		t.Error("returned outputs must not alias the store")
	}
}

func TestVariables_ForkOverlay(t *testing.T) {
	parent := NewVariables()
	parent.SetNodeOutputs("shared", map[string]any{"value": "parent"})

	fork := parent.Fork()

	// Чтение проваливается в родителя
	if val, _ := fork.Output("shared", "value"); val != "parent" {
		t.Errorf("fork should read through to parent, got %v", val)
	}

	// Запись остаётся локальной
	fork.SetNodeOutputs("local", map[string]any{"value": "branch"})
	if _, ok := parent.Output("local", "value"); ok {
		t.Error("fork writes must not leak into parent")
	}

	// Локальная запись затеняет родительскую целиком
	fork.SetNodeOutputs("shared", map[string]any{"other": true})
	if _, ok := fork.Output("shared", "value"); ok {
		t.Error("local node entry should shadow the parent entry entirely")
	}
	if val, _ := parent.Output("shared", "value"); val != "parent" {
		t.Error("parent entry must stay intact")
	}
}

func TestVariables_MergeFrom(t *testing.T) {
	parent := NewVariables()
	parent.SetNodeOutputs("a", map[string]any{"value": 1})

	fork := parent.Fork()
	fork.SetNodeOutputs("b", map[string]any{"value": 2})

	parent.MergeFrom(fork)
	if val, _ := parent.Output("b", "value"); val != 2 {
		t.Errorf("merge should bring fork outputs, got %v", val)
	}
	if val, _ := parent.Output("a", "value"); val != 1 {
		t.Error("merge must keep untouched parent entries")
	}
}

func TestVariables_SnapshotRestore(t *testing.T) {
	vars := NewVariables()
	vars.SetNodeOutputs("a", map[string]any{"value": 1.5})
	vars.SetNodeOutputs("b", map[string]any{"name": "x"})

	// Снимок переживает JSON round-trip (как в checkpoint'е)
	raw, err := json.Marshal(vars.Snapshot())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	restored := NewVariables()
	restored.Restore(decoded)

	if val, _ := restored.Output("a", "value"); val != 1.5 {
		t.Errorf("expected 1.5 after restore, got %v", val)
	}
	if val, _ := restored.Output("b", "name"); val != "x" {
		t.Errorf("expected x after restore, got %v", val)
	}
}

func TestVariables_SnapshotFlattensFork(t *testing.T) {
	parent := NewVariables()
	parent.SetNodeOutputs("a", map[string]any{"value": 1})
	fork := parent.Fork()
	fork.SetNodeOutputs("b", map[string]any{"value": 2})

	snap := fork.Snapshot()
	if _, ok := snap["a"]; !ok {
		t.Error("snapshot should include parent entries")
	}
	if _, ok := snap["b"]; !ok {
		t.Error("snapshot should include local entries")
	}
}

// --- runState ---

func TestRunState_QueueOrder(t *testing.T) {
	st := newRunState()
	st.pushBack("a")
	st.pushBack("b")
	st.pushFront("c")

	want := []string{"c", "a", "b"}
	if got := st.frontier(); len(got) != 3 {
		t.Fatalf("frontier: %v", got)
	} else {
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("expected %v, got %v", want, got)
			}
		}
	}

	for _, expected := range want {
		id, ok := st.popFront()
		if !ok || id != expected {
			t.Fatalf("expected pop %q, got %q (ok=%v)", expected, id, ok)
		}
	}
	if _, ok := st.popFront(); ok {
		t.Error("empty queue should not pop")
	}
}

func TestRunState_GuardSkipsExecutedOnly(t *testing.T) {
	st := newRunState()
	st.markExecuted("plain")
	st.markExecuted("loop")

	plain := &domain.Node{ID: "plain", Type: "x"}
	loop := &domain.Node{ID: "loop", Type: "x", Capability: domain.CapabilityControlFlow}
	fresh := &domain.Node{ID: "fresh", Type: "x"}

	if !st.shouldSkip(plain) {
		t.Error("executed node should be skipped")
	}
	if st.shouldSkip(loop) {
		t.Error("control-flow node must be re-enterable")
	}
	if st.shouldSkip(fresh) {
		t.Error("fresh node should not be skipped")
	}
}

func TestRunState_Restore(t *testing.T) {
	st := newRunState()
	st.pushBack("stale")
	st.markExecuted("old")

	st.restore(&domain.Checkpoint{
		Frontier: []string{"x", "y"},
		Executed: []string{"a", "b"},
		Seq:      7,
	})

	if got := st.frontier(); len(got) != 2 || got[0] != "x" || got[1] != "y" {
		t.Errorf("unexpected frontier after restore: %v", got)
	}
	set := st.executedSet()
	if !set["a"] || !set["b"] || set["old"] {
		t.Errorf("unexpected executed set after restore: %v", set)
	}
	if next := st.nextSeq(); next != 8 {
		t.Errorf("seq should continue from checkpoint, got %d", next)
	}
}

// --- pauseGate ---

func TestPauseGate(t *testing.T) {
	g := &pauseGate{}

	// Открытые ворота не блокируют
	if err := g.Wait(context.Background()); err != nil {
		t.Fatalf("open gate: %v", err)
	}

	g.Pause()
	if !g.Paused() {
		t.Fatal("gate should report paused")
	}

	released := make(chan error, 1)
	go func() {
		released <- g.Wait(context.Background())
	}()

	select {
	case <-released:
		t.Fatal("Wait returned while gate is closed")
	case <-time.After(30 * time.Millisecond):
	}

	g.Resume()
	select {
	case err := <-released:
		if err != nil {
			t.Fatalf("Wait after resume: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Resume did not release waiter")
	}

	// Повторные вызовы идемпотентны
	g.Resume()
	g.Pause()
	g.Pause()
	g.Resume()
}

func TestPauseGate_ContextCancel(t *testing.T) {
	g := &pauseGate{}
	g.Pause()

	ctx, cancel := context.WithCancel(context.Background())
	released := make(chan error, 1)
	go func() {
		released <- g.Wait(ctx)
	}()

	cancel()
	select {
	case err := <-released:
		if err == nil {
			t.Fatal("expected context error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancel did not release waiter")
	}
}

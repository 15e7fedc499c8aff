package nodes

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/engine"
)

// request собирает минимальный engine.Request для выполнения node.
func request(config map[string]any) engine.Request {
	return engine.Request{
		Node:   &domain.Node{ID: "test"},
		Config: config,
	}
}

// --- Registry ---

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	if r.Has("delay") {
		t.Error("empty registry should not have delay")
	}

	r.Register(NewDelayNode())
	if !r.Has("delay") {
		t.Error("registry should have delay after Register")
	}

	exec, err := r.Executor("delay")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exec == nil {
		t.Fatal("executor should not be nil")
	}

	_, err = r.Executor("unknown")
	if !errors.Is(err, ErrUnknownNodeType) {
		t.Errorf("expected ErrUnknownNodeType, got %v", err)
	}
}

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry(nil)

	expected := []string{
		"start", "set", "transform", "merge",
		"if", "switch", "forloop", "foreach", "parallel", "subflow",
		"http", "delay", "log", "fail",
	}
	for _, typ := range expected {
		if !r.Has(typ) {
			t.Errorf("default registry should have %s", typ)
		}
	}
	if len(r.Types()) != len(expected) {
		t.Errorf("expected %d types, got %d: %v", len(expected), len(r.Types()), r.Types())
	}
}

// --- Данные: start, set, transform, merge ---

func TestStartNode(t *testing.T) {
	n := NewStartNode()

	req := request(map[string]any{
		"defaults": map[string]any{"region": "eu", "retries": 3},
	})
	req.JobInput = map[string]any{"region": "us", "user": "alice"}

	res, err := n.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success {
		t.Fatal("expected success")
	}
	// Input job перекрывает defaults
	if res.Outputs["region"] != "us" {
		t.Errorf("expected region us, got %v", res.Outputs["region"])
	}
	if res.Outputs["retries"] != 3 {
		t.Errorf("expected retries 3, got %v", res.Outputs["retries"])
	}
	if res.Outputs["user"] != "alice" {
		t.Errorf("expected user alice, got %v", res.Outputs["user"])
	}
}

func TestSetNode(t *testing.T) {
	n := NewSetNode()

	req := request(map[string]any{
		"values": map[string]any{"status": "ready", "count": 2},
	})
	req.Inputs = map[string]any{"count": 1, "source": "feed"}

	res, err := n.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// values перекрывают входы
	if res.Outputs["count"] != 2 {
		t.Errorf("expected count 2, got %v", res.Outputs["count"])
	}
	if res.Outputs["source"] != "feed" {
		t.Errorf("expected source feed, got %v", res.Outputs["source"])
	}
	if res.Outputs["status"] != "ready" {
		t.Errorf("expected status ready, got %v", res.Outputs["status"])
	}
}

func TestTransformNode(t *testing.T) {
	n := NewTransformNode()

	// Config приходит уже отрендеренным движком
	res, err := n.Execute(context.Background(), request(map[string]any{
		"total": 10,
		"label": "ten",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outputs["total"] != 10 || res.Outputs["label"] != "ten" {
		t.Errorf("unexpected outputs: %v", res.Outputs)
	}
}

func TestMergeNode(t *testing.T) {
	n := NewMergeNode()

	req := request(nil)
	req.Inputs = map[string]any{"left": 1, "right": 2}

	res, err := n.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outputs["left"] != 1 || res.Outputs["right"] != 2 {
		t.Errorf("unexpected outputs: %v", res.Outputs)
	}
}

// --- If ---

func TestIfNode_Condition(t *testing.T) {
	n := NewIfNode()

	tests := []struct {
		name      string
		condition any
		want      string
	}{
		{"true string", "true", PortTrue},
		{"false string", "false", PortFalse},
		{"empty string", "", PortFalse},
		{"zero string", "0", PortFalse},
		{"rendered nil", "<nil>", PortFalse},
		{"arbitrary string", "yes", PortTrue},
		{"bool", true, PortTrue},
		{"number zero", 0, PortFalse},
		{"number", 7, PortTrue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := n.Execute(context.Background(), request(map[string]any{
				"condition": tt.condition,
			}))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(res.NextPorts) != 1 || res.NextPorts[0] != tt.want {
				t.Errorf("expected port %s, got %v", tt.want, res.NextPorts)
			}
		})
	}
}

func TestIfNode_Operators(t *testing.T) {
	n := NewIfNode()

	tests := []struct {
		name    string
		value   any
		op      string
		operand any
		want    bool
	}{
		{"eq strings", "a", "eq", "a", true},
		{"eq mixed numbers", 3, "eq", 3.0, true},
		{"ne", "a", "ne", "b", true},
		{"gt", 5, "gt", 3, true},
		{"gt false", 3, "gt", 5, false},
		{"gte equal", 5, "gte", 5.0, true},
		{"lt", 2.5, "lt", 3, true},
		{"lte", 3, "lte", 3, true},
		{"contains string", "hello world", "contains", "world", true},
		{"contains slice", []any{"a", "b"}, "contains", "b", true},
		{"empty nil", nil, "empty", nil, true},
		{"empty string", "", "empty", nil, true},
		{"not_empty", "x", "not_empty", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := request(map[string]any{
				"value":    tt.value,
				"operator": tt.op,
				"operand":  tt.operand,
			})
			res, err := n.Execute(context.Background(), req)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.Outputs["result"] != tt.want {
				t.Errorf("expected result %v, got %v", tt.want, res.Outputs["result"])
			}
		})
	}
}

func TestIfNode_ValueFromInput(t *testing.T) {
	n := NewIfNode()

	req := request(map[string]any{"operator": "gt", "operand": 10})
	req.Inputs = map[string]any{"value": 15}

	res, err := n.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.NextPorts[0] != PortTrue {
		t.Errorf("expected true port, got %v", res.NextPorts)
	}
}

func TestIfNode_Errors(t *testing.T) {
	n := NewIfNode()

	// Неизвестный оператор
	_, err := n.Execute(context.Background(), request(map[string]any{
		"value": 1, "operator": "between",
	}))
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}

	// Нечисловые значения для числового оператора
	_, err = n.Execute(context.Background(), request(map[string]any{
		"value": "abc", "operator": "gt", "operand": 5,
	}))
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

// --- Switch ---

func TestSwitchNode(t *testing.T) {
	n := NewSwitchNode()

	config := map[string]any{
		"cases": map[string]any{
			"small": "left",
			"big":   "right",
		},
		"default": "other",
	}

	// Совпадение
	req := request(config)
	req.Inputs = map[string]any{"value": "big"}
	res, err := n.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.NextPorts[0] != "right" {
		t.Errorf("expected right, got %v", res.NextPorts)
	}
	if res.Outputs["matched"] != "right" {
		t.Errorf("expected matched right, got %v", res.Outputs["matched"])
	}

	// Default
	req.Inputs = map[string]any{"value": "unknown"}
	res, err = n.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.NextPorts[0] != "other" {
		t.Errorf("expected other, got %v", res.NextPorts)
	}
}

func TestSwitchNode_ValueFromConfig(t *testing.T) {
	n := NewSwitchNode()

	// Числовое значение сравнивается по строковому представлению
	res, err := n.Execute(context.Background(), request(map[string]any{
		"value": 42,
		"cases": map[string]any{"42": "answer"},
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.NextPorts[0] != "answer" {
		t.Errorf("expected answer, got %v", res.NextPorts)
	}
}

func TestSwitchNode_MissingCases(t *testing.T) {
	n := NewSwitchNode()

	_, err := n.Execute(context.Background(), request(map[string]any{}))
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

// --- For loop ---

func TestForLoopNode(t *testing.T) {
	n := NewForLoopNode()
	config := map[string]any{"start": 1, "end": 6}

	// Первая итерация
	res, err := n.Execute(context.Background(), request(config))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.NextPorts[0] != PortLoop {
		t.Errorf("expected loop port, got %v", res.NextPorts)
	}
	if res.Outputs["index"] != 1.0 {
		t.Errorf("expected index 1, got %v", res.Outputs["index"])
	}
	if res.Outputs["total"] != 1.0 {
		t.Errorf("expected total 1, got %v", res.Outputs["total"])
	}

	// Повторный вход: предыдущее состояние приходит через Prior
	req := request(config)
	req.Prior = map[string]any{"index": 2.0, "total": 3.0}
	res, err = n.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.NextPorts[0] != PortLoop {
		t.Errorf("expected loop port, got %v", res.NextPorts)
	}
	if res.Outputs["index"] != 3.0 || res.Outputs["total"] != 6.0 {
		t.Errorf("unexpected state: %v", res.Outputs)
	}

	// Исчерпание: total не меняется
	req.Prior = map[string]any{"index": 5.0, "total": 15.0}
	res, err = n.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.NextPorts[0] != PortCompleted {
		t.Errorf("expected completed port, got %v", res.NextPorts)
	}
	if res.Outputs["total"] != 15.0 {
		t.Errorf("expected total 15, got %v", res.Outputs["total"])
	}
}

func TestForLoopNode_NegativeStep(t *testing.T) {
	n := NewForLoopNode()
	config := map[string]any{"start": 3, "end": 0, "step": -1}

	req := request(config)
	req.Prior = map[string]any{"index": 1.0}
	res, err := n.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 1 + (-1) = 0 == end → completed
	if res.NextPorts[0] != PortCompleted {
		t.Errorf("expected completed port, got %v", res.NextPorts)
	}
}

func TestForLoopNode_Errors(t *testing.T) {
	n := NewForLoopNode()

	_, err := n.Execute(context.Background(), request(map[string]any{"start": 0}))
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig for missing end, got %v", err)
	}

	_, err = n.Execute(context.Background(), request(map[string]any{"end": 5, "step": 0}))
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig for zero step, got %v", err)
	}
}

// --- For each ---

func TestForEachNode(t *testing.T) {
	n := NewForEachNode()
	config := map[string]any{"items": []any{"a", "b"}}

	// Первый элемент
	res, err := n.Execute(context.Background(), request(config))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.NextPorts[0] != PortLoop {
		t.Errorf("expected loop port, got %v", res.NextPorts)
	}
	if !res.Repeat {
		t.Error("expected Repeat on loop iteration")
	}
	if res.Outputs["item"] != "a" || res.Outputs["index"] != 0 {
		t.Errorf("unexpected outputs: %v", res.Outputs)
	}

	// Второй элемент
	req := request(config)
	req.Prior = map[string]any{"index": 0}
	res, err = n.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outputs["item"] != "b" {
		t.Errorf("expected item b, got %v", res.Outputs["item"])
	}

	// Исчерпание
	req.Prior = map[string]any{"index": 1}
	res, err = n.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.NextPorts[0] != PortCompleted {
		t.Errorf("expected completed port, got %v", res.NextPorts)
	}
	if res.Repeat {
		t.Error("completed iteration should not repeat")
	}
	if res.Outputs["total"] != 2 {
		t.Errorf("expected total 2, got %v", res.Outputs["total"])
	}
}

func TestForEachNode_EmptyItems(t *testing.T) {
	n := NewForEachNode()

	res, err := n.Execute(context.Background(), request(map[string]any{"items": []any{}}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.NextPorts[0] != PortCompleted {
		t.Errorf("empty list should go straight to completed, got %v", res.NextPorts)
	}
}

func TestForEachNode_ParallelMode(t *testing.T) {
	n := NewForEachNode()

	res, err := n.Execute(context.Background(), request(map[string]any{
		"items":    []any{"a", "b"},
		"parallel": true,
		"branch":   "body",
		"join":     "gather",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.ParallelBranches) != 2 {
		t.Fatalf("expected 2 branches, got %d", len(res.ParallelBranches))
	}
	if res.ParallelBranches[0] != "body" || res.ParallelBranches[1] != "body" {
		t.Errorf("unexpected branches: %v", res.ParallelBranches)
	}
	if res.BranchVars[0]["item"] != "a" || res.BranchVars[1]["item"] != "b" {
		t.Errorf("unexpected seeds: %v", res.BranchVars)
	}
	if res.PairedJoinID != "gather" {
		t.Errorf("expected join gather, got %s", res.PairedJoinID)
	}

	// Без branch — ошибка конфигурации
	_, err = n.Execute(context.Background(), request(map[string]any{
		"items": []any{"a"}, "parallel": true,
	}))
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestForEachNode_ItemsFromInput(t *testing.T) {
	n := NewForEachNode()

	req := request(nil)
	req.Inputs = map[string]any{"items": []any{10, 20}}
	res, err := n.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outputs["item"] != 10 {
		t.Errorf("expected item 10, got %v", res.Outputs["item"])
	}
}

// --- Parallel ---

func TestParallelNode_Branches(t *testing.T) {
	n := NewParallelNode()

	res, err := n.Execute(context.Background(), request(map[string]any{
		"branches": []any{"b1", "b2"},
		"join":     "merge",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.ParallelBranches) != 2 || res.ParallelBranches[0] != "b1" {
		t.Errorf("unexpected branches: %v", res.ParallelBranches)
	}
	if res.PairedJoinID != "merge" {
		t.Errorf("expected join merge, got %s", res.PairedJoinID)
	}
	if res.Outputs["branches"] != 2 {
		t.Errorf("expected branches 2, got %v", res.Outputs["branches"])
	}
}

func TestParallelNode_BranchPerItem(t *testing.T) {
	n := NewParallelNode()

	res, err := n.Execute(context.Background(), request(map[string]any{
		"branch": "worker",
		"items":  []any{"x", "y", "z"},
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.ParallelBranches) != 3 {
		t.Fatalf("expected 3 branches, got %d", len(res.ParallelBranches))
	}
	for _, start := range res.ParallelBranches {
		if start != "worker" {
			t.Errorf("expected start worker, got %s", start)
		}
	}
	if res.BranchVars[1]["item"] != "y" || res.BranchVars[1]["index"] != 1 {
		t.Errorf("unexpected seed: %v", res.BranchVars[1])
	}
}

func TestParallelNode_Errors(t *testing.T) {
	n := NewParallelNode()

	_, err := n.Execute(context.Background(), request(map[string]any{}))
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig without branches, got %v", err)
	}

	_, err = n.Execute(context.Background(), request(map[string]any{"branch": "worker"}))
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig without items, got %v", err)
	}
}

// --- Subflow ---

func TestSubflowNode(t *testing.T) {
	n := NewSubflowNode()

	req := request(map[string]any{
		"workflow": "child",
		"input":    map[string]any{"a": 1, "b": 2},
	})
	req.Inputs = map[string]any{"b": 20}

	res, err := n.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Subflow == nil {
		t.Fatal("expected subflow call")
	}
	if res.Subflow.WorkflowName != "child" {
		t.Errorf("expected workflow child, got %s", res.Subflow.WorkflowName)
	}
	// Inputs перекрывают config input
	if res.Subflow.Input["a"] != 1 || res.Subflow.Input["b"] != 20 {
		t.Errorf("unexpected input: %v", res.Subflow.Input)
	}
}

func TestSubflowNode_Errors(t *testing.T) {
	n := NewSubflowNode()

	_, err := n.Execute(context.Background(), request(map[string]any{}))
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig without workflow, got %v", err)
	}

	_, err = n.Execute(context.Background(), request(map[string]any{"workflow_id": "not-a-uuid"}))
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig for bad workflow_id, got %v", err)
	}
}

// --- HTTP ---

func TestHTTPNode_GET(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
	}))
	defer server.Close()

	n := NewHTTPNode(nil)
	res, err := n.Execute(context.Background(), request(map[string]any{
		"url": server.URL,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got error %q", res.Error)
	}
	if res.Outputs["status_code"] != 200 {
		t.Errorf("expected status_code 200, got %v", res.Outputs["status_code"])
	}
	body, ok := res.Outputs["body"].(map[string]any)
	if !ok {
		t.Fatalf("expected body map, got %T", res.Outputs["body"])
	}
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %v", body["status"])
	}
}

func TestHTTPNode_POST_JSON(t *testing.T) {
	var receivedBody map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("expected Content-Type application/json")
		}
		json.NewDecoder(r.Body).Decode(&receivedBody)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	n := NewHTTPNode(nil)
	res, err := n.Execute(context.Background(), request(map[string]any{
		"method": "POST",
		"url":    server.URL,
		"body":   map[string]any{"name": "test"},
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outputs["status_code"] != 201 {
		t.Errorf("expected status_code 201, got %v", res.Outputs["status_code"])
	}
	if receivedBody["name"] != "test" {
		t.Errorf("expected body name test, got %v", receivedBody["name"])
	}
}

func TestHTTPNode_Headers(t *testing.T) {
	var receivedAuth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedAuth = r.Header.Get("Authorization")
	}))
	defer server.Close()

	n := NewHTTPNode(nil)
	_, err := n.Execute(context.Background(), request(map[string]any{
		"url": server.URL,
		"headers": map[string]any{
			"Authorization": "Bearer secret123",
		},
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if receivedAuth != "Bearer secret123" {
		t.Errorf("expected auth header, got %s", receivedAuth)
	}
}

func TestHTTPNode_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer server.Close()

	n := NewHTTPNode(nil)
	res, err := n.Execute(context.Background(), request(map[string]any{
		"url": server.URL,
	}))
	// HTTP >= 400 — логическая ошибка, не инфраструктурная
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success {
		t.Fatal("expected logical failure")
	}
	if res.Error != "HTTP 500: boom" {
		t.Errorf("unexpected error message: %q", res.Error)
	}
	// Outputs сохраняются для error-route
	if res.Outputs["status_code"] != 500 {
		t.Errorf("expected status_code 500, got %v", res.Outputs["status_code"])
	}
}

func TestHTTPNode_MissingURL(t *testing.T) {
	n := NewHTTPNode(nil)

	_, err := n.Execute(context.Background(), request(map[string]any{}))
	if !errors.Is(err, ErrHTTPRequest) {
		t.Errorf("expected ErrHTTPRequest, got %v", err)
	}
}

func TestHTTPNode_Cancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer server.Close()

	n := NewHTTPNode(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := n.Execute(ctx, request(map[string]any{"url": server.URL}))
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if !errors.Is(err, ErrHTTPRequest) {
		t.Errorf("expected ErrHTTPRequest, got %v", err)
	}
	if time.Since(start) > 200*time.Millisecond {
		t.Errorf("cancellation took too long: %v", time.Since(start))
	}
}

// --- Delay ---

func TestDelayNode(t *testing.T) {
	n := NewDelayNode()

	start := time.Now()
	res, err := n.Execute(context.Background(), request(map[string]any{
		"duration_sec": 0.05,
	}))
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed < 50*time.Millisecond {
		t.Errorf("delay was too short: %v", elapsed)
	}
	if res.Outputs["delayed_sec"] != 0.05 {
		t.Errorf("expected delayed_sec 0.05, got %v", res.Outputs["delayed_sec"])
	}
}

func TestDelayNode_Cancellation(t *testing.T) {
	n := NewDelayNode()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := n.Execute(ctx, request(map[string]any{"duration_sec": 5}))
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if time.Since(start) > 200*time.Millisecond {
		t.Errorf("cancellation took too long: %v", time.Since(start))
	}
}

// --- Log, fail ---

func TestLogNode(t *testing.T) {
	n := NewLogNode(nil)

	req := request(map[string]any{"message": "hello", "level": "debug"})
	req.Inputs = map[string]any{"x": 1}

	res, err := n.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outputs["x"] != 1 {
		t.Errorf("log node should pass inputs through, got %v", res.Outputs)
	}
}

func TestFailNode(t *testing.T) {
	n := NewFailNode()

	res, err := n.Execute(context.Background(), request(map[string]any{
		"message": "not supposed to happen",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success {
		t.Fatal("fail node should not succeed")
	}
	if res.Error != "not supposed to happen" {
		t.Errorf("unexpected error message: %q", res.Error)
	}
}

package robot

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/breaker"
	"github.com/shaiso/Conveyor/internal/domain"
)

func writeData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"data": data})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}

// --- Claim ---

func TestClient_Claim_DecodesJobs(t *testing.T) {
	jobID := uuid.New()
	var gotReq ClaimRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/robot/claims" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("decode claim request: %v", err)
		}
		writeData(w, http.StatusOK, []domain.Job{{
			ID:          jobID,
			Status:      domain.JobStatusRunning,
			Environment: "staging",
			Input:       map[string]any{"k": "v"},
			Graph: domain.Graph{
				Nodes: []domain.Node{{ID: "start", Type: "set"}},
			},
		}})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil)
	jobs, err := client.Claim(context.Background(), ClaimRequest{
		RobotID:       "robot-1",
		Environment:   "staging",
		BatchSize:     3,
		VisibilitySec: 60,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotReq.RobotID != "robot-1" || gotReq.BatchSize != 3 {
		t.Errorf("claim request not forwarded: %+v", gotReq)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(jobs))
	}
	if jobs[0].ID != jobID {
		t.Errorf("job ID mismatch")
	}
	// Граф должен приехать исполняемым
	if len(jobs[0].Graph.Nodes) != 1 || jobs[0].Graph.Nodes[0].Type != "set" {
		t.Errorf("graph not decoded: %+v", jobs[0].Graph)
	}
	if jobs[0].Input["k"] != "v" {
		t.Errorf("input not decoded: %+v", jobs[0].Input)
	}
}

// --- Lease ---

func TestClient_ExtendLease_CancelSignal(t *testing.T) {
	jobID := uuid.New()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/"+jobID.String()+"/lease") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		writeData(w, http.StatusOK, LeaseState{
			VisibleAfter:    time.Now().Add(time.Minute),
			CancelRequested: true,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil)
	state, err := client.ExtendLease(context.Background(), jobID, LeaseRequest{
		RobotID:   "robot-1",
		ExtendSec: 60,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !state.CancelRequested {
		t.Error("expected cancel_requested=true")
	}
}

func TestClient_ExtendLease_OwnershipLost(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusConflict, "OWNERSHIP_LOST", "job owned by robot-2")
	}))
	defer server.Close()

	client := NewClient(server.URL, nil)
	_, err := client.ExtendLease(context.Background(), uuid.New(), LeaseRequest{RobotID: "robot-1"})
	if !errors.Is(err, ErrOwnershipLost) {
		t.Fatalf("expected ErrOwnershipLost, got %v", err)
	}
}

func TestClient_GetJob_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "no such job")
	}))
	defer server.Close()

	client := NewClient(server.URL, nil)
	_, err := client.GetJob(context.Background(), uuid.New())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// --- Reports ---

func TestClient_Complete_SendsReport(t *testing.T) {
	jobID := uuid.New()
	var gotReq CompleteRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/"+jobID.String()+"/complete") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&gotReq)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewClient(server.URL, nil)
	err := client.Complete(context.Background(), jobID, CompleteRequest{
		RobotID: "robot-1",
		Result:  map[string]any{"total": 15.0},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotReq.RobotID != "robot-1" || gotReq.Result["total"] != 15.0 {
		t.Errorf("complete request not forwarded: %+v", gotReq)
	}
}

func TestClient_Fail_CarriesFatalFlag(t *testing.T) {
	var gotReq FailRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotReq)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewClient(server.URL, nil)
	err := client.Fail(context.Background(), uuid.New(), FailRequest{
		RobotID: "robot-1",
		Error:   "invalid graph",
		Fatal:   true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !gotReq.Fatal {
		t.Error("fatal flag lost in transit")
	}
}

// --- Error semantics ---

func TestClient_APIError_CodeAndMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "batch_size must be positive")
	}))
	defer server.Close()

	client := NewClient(server.URL, nil)
	_, err := client.Claim(context.Background(), ClaimRequest{RobotID: "robot-1"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "VALIDATION_ERROR") ||
		!strings.Contains(err.Error(), "batch_size") {
		t.Errorf("error should carry code and message, got: %v", err)
	}
}

// --- Breaker integration ---

func TestClient_BreakerOpensOnServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusInternalServerError, "INTERNAL", "db down")
	}))
	defer server.Close()

	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold: 2,
		OpenTimeout:      time.Minute,
	})
	client := NewClient(server.URL, breakers)

	for i := 0; i < 2; i++ {
		if err := client.Health(context.Background()); err == nil {
			t.Fatal("expected error from 500")
		}
	}

	if client.BreakerState() != breaker.StateOpen {
		t.Fatalf("expected breaker OPEN, got %s", client.BreakerState())
	}

	// Открытый breaker отклоняет запрос без обращения к серверу
	if err := client.Health(context.Background()); !errors.Is(err, breaker.ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
}

func TestClient_SemanticErrorsDoNotTripBreaker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusConflict, "OWNERSHIP_LOST", "owned by robot-2")
	}))
	defer server.Close()

	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold: 2,
		OpenTimeout:      time.Minute,
	})
	client := NewClient(server.URL, breakers)

	for i := 0; i < 5; i++ {
		err := client.Complete(context.Background(), uuid.New(), CompleteRequest{RobotID: "r"})
		if !errors.Is(err, ErrOwnershipLost) {
			t.Fatalf("expected ErrOwnershipLost, got %v", err)
		}
	}

	// 409 — семантический ответ здорового сервиса
	if client.BreakerState() != breaker.StateClosed {
		t.Fatalf("expected breaker CLOSED, got %s", client.BreakerState())
	}
}

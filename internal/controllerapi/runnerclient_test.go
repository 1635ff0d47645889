package controllerapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/agentrelay/agentrelay/internal/queue"
)

func TestRunnerClientStart(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/jobs/J1/start" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{"job_id": "J1", "status": "started", "model": "sonnet"})
	}))
	defer srv.Close()

	client := NewRunnerClient(srv.URL)
	err := client.Start(context.Background(), "J1", queue.StartRequest{Goal: "do a thing", Model: "sonnet"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if gotBody["goal"] != "do a thing" {
		t.Fatalf("expected goal in body, got %+v", gotBody)
	}
}

func TestRunnerClientStart409IsPermanent(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	client := NewRunnerClient(srv.URL)
	err := client.Start(context.Background(), "J1", queue.StartRequest{Goal: "x"})
	if err == nil {
		t.Fatal("expected error on 409")
	}
	if hits != 1 {
		t.Fatalf("expected no retry on a 4xx, got %d attempts", hits)
	}
}

func TestRunnerClientApprove(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{"status": "ok", "approved": true})
	}))
	defer srv.Close()

	client := NewRunnerClient(srv.URL)
	if err := client.Approve(context.Background(), "J1", "tu1", true, false); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if gotBody["tool_use_id"] != "tu1" {
		t.Fatalf("expected tool_use_id in body, got %+v", gotBody)
	}
}

func TestRunnerClientStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"job_id": "J1", "status": "waiting_input", "iteration": 2, "model": "sonnet",
		})
	}))
	defer srv.Close()

	client := NewRunnerClient(srv.URL)
	snap, err := client.Status(context.Background(), "J1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if snap.Status != "waiting_input" || snap.Iteration != 2 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestRunnerClientCancelAndEnd(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
	}))
	defer srv.Close()

	client := NewRunnerClient(srv.URL)
	if err := client.Cancel(context.Background(), "J1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := client.End(context.Background(), "J1"); err != nil {
		t.Fatalf("end: %v", err)
	}
	if len(paths) != 2 || paths[0] != "/jobs/J1/cancel" || paths[1] != "/jobs/J1/end" {
		t.Fatalf("unexpected paths: %v", paths)
	}
}

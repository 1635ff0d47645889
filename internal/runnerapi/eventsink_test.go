package runnerapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/agentrelay/agentrelay/internal/eventproto"
)

func TestHTTPEventSinkPostsToRegisteredCallback(t *testing.T) {
	var received eventproto.Envelope
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewHTTPEventSink("")
	sink.RegisterCallback("J1", srv.URL)

	env := eventproto.Envelope{JobID: "J1", EventType: eventproto.Progress, Seq: 1}
	if err := sink.Send(context.Background(), env); err != nil {
		t.Fatalf("send: %v", err)
	}
	if received.JobID != "J1" || received.EventType != eventproto.Progress {
		t.Fatalf("expected envelope delivered, got %+v", received)
	}
}

func TestHTTPEventSinkFallsBackToDefaultURL(t *testing.T) {
	var hit bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewHTTPEventSink(srv.URL)
	if err := sink.Send(context.Background(), eventproto.Envelope{JobID: "unregistered"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if !hit {
		t.Fatal("expected default URL to be used")
	}
}

func TestHTTPEventSinkErrorsWithNoURL(t *testing.T) {
	sink := NewHTTPEventSink("")
	err := sink.Send(context.Background(), eventproto.Envelope{JobID: "none"})
	if err == nil {
		t.Fatal("expected error when no callback_url is known")
	}
}

func TestHTTPEventSink4xxIsPermanent(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	sink := NewHTTPEventSink(srv.URL)
	err := sink.Send(context.Background(), eventproto.Envelope{JobID: "J2"})
	if err == nil {
		t.Fatal("expected error on 400")
	}
	if hits != 1 {
		t.Fatalf("expected exactly one attempt for a permanent failure, got %d", hits)
	}
}

package runnerapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/agentrelay/agentrelay/internal/eventproto"
)

// HTTPEventSink implements session.EventSink by POSTing to a job's
// registered callback_url (the address the controller gave us on
// /jobs/{id}/start, per §4.6). Retries transient failures with backoff;
// the supervisor itself never retries, per the kept design in DESIGN.md.
type HTTPEventSink struct {
	httpClient *http.Client
	newBackoff func() backoff.BackOff
	defaultURL string

	mu        sync.RWMutex
	callbacks map[string]string // job_id -> callback_url
}

// NewHTTPEventSink creates a sink. defaultURL is used for jobs that never
// registered a callback_url (e.g. in tests); in production every start
// request carries one and it takes precedence.
func NewHTTPEventSink(defaultURL string) *HTTPEventSink {
	return &HTTPEventSink{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		newBackoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = 10 * time.Second
			return b
		},
		defaultURL: defaultURL,
		callbacks:  make(map[string]string),
	}
}

// RegisterCallback implements CallbackRegistrar.
func (s *HTTPEventSink) RegisterCallback(jobID, url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks[jobID] = url
}

func (s *HTTPEventSink) urlFor(jobID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if url, ok := s.callbacks[jobID]; ok {
		return url
	}
	return s.defaultURL
}

// Send implements session.EventSink.
func (s *HTTPEventSink) Send(ctx context.Context, env eventproto.Envelope) error {
	url := s.urlFor(env.JobID)
	if url == "" {
		return fmt.Errorf("no callback_url registered for job %s", env.JobID)
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	return backoff.Retry(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("controller /events: %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("controller /events: %d", resp.StatusCode))
		}
		return nil
	}, s.newBackoff())
}

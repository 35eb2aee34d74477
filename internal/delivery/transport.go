package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// ErrBeaconBusy is returned when the beacon's in-flight budget is exhausted
// and it declines to enqueue another send.
var ErrBeaconBusy = errors.New("beacon transport busy")

// ErrOffline marks sends skipped because the host reported no connectivity.
var ErrOffline = errors.New("offline")

// Transport moves one serialized payload to the collection endpoint.
type Transport interface {
	Send(ctx context.Context, body []byte) error
}

// HTTPTransport is the blocking transport. It observes real failure codes,
// keeps connections alive, and never outlives its per-send timeout.
type HTTPTransport struct {
	endpoint string
	client   *http.Client
	timeout  time.Duration
}

func NewHTTPTransport(endpoint string, client *http.Client, timeout time.Duration) *HTTPTransport {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPTransport{endpoint: endpoint, client: client, timeout: timeout}
}

func (t *HTTPTransport) Send(ctx context.Context, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("track request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("track request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("track request: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// BeaconTransport is the fire-and-forget transport. Sends run on a detached
// context so page teardown cannot cancel them, the body goes out as text
// (the beacon cannot set a JSON content type), and the result is never
// observed. A small in-flight budget makes it decline rather than pile up.
type BeaconTransport struct {
	endpoint string
	client   *http.Client
	timeout  time.Duration
	inflight chan struct{}
	wg       sync.WaitGroup
}

func NewBeaconTransport(endpoint string, client *http.Client, timeout time.Duration, budget int) *BeaconTransport {
	if client == nil {
		client = &http.Client{}
	}
	if budget <= 0 {
		budget = 4
	}
	return &BeaconTransport{
		endpoint: endpoint,
		client:   client,
		timeout:  timeout,
		inflight: make(chan struct{}, budget),
	}
}

func (t *BeaconTransport) Send(_ context.Context, body []byte) error {
	select {
	case t.inflight <- struct{}{}:
	default:
		return ErrBeaconBusy
	}
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer func() { <-t.inflight }()
		ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
		if err != nil {
			return
		}
		req.Header.Set("Content-Type", "text/plain;charset=UTF-8")
		resp, err := t.client.Do(req)
		if err != nil {
			return
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()
	return nil
}

// Wait blocks until in-flight beacon sends finish. Used on agent shutdown
// and in tests; a navigating page cannot wait, and does not.
func (t *BeaconTransport) Wait() {
	t.wg.Wait()
}

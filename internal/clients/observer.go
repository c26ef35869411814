package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// StateChange is the body posted to the observer.
type StateChange struct {
	TicketID string `json:"ticketId"`
	NewState string `json:"newState"`
	ClientID string `json:"clientId"`
}

// ObserverClient posts state changes to the external observer.
type ObserverClient struct {
	baseURL  string
	retryMax int
	http     *http.Client
}

// NewObserverClient creates a client for baseURL. Server errors are retried up
// to retryMax times.
func NewObserverClient(baseURL string, timeout time.Duration, retryMax int) (*ObserverClient, error) {
	if baseURL == "" {
		return nil, errors.New("OBSERVER_ENDPOINT is required")
	}
	if retryMax < 0 {
		retryMax = 0
	}
	return &ObserverClient{
		baseURL:  baseURL,
		retryMax: retryMax,
		http:     &http.Client{Timeout: timeout},
	}, nil
}

// NotifyStateChange posts change and returns an error on network failure or a
// non-2xx answer.
func (c *ObserverClient) NotifyStateChange(ctx context.Context, change StateChange) error {
	if c == nil || c.http == nil {
		return errors.New("observer client not initialized")
	}
	body, err := json.Marshal(change)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt <= c.retryMax; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return lastErr
			case <-time.After(time.Duration(attempt) * retryBackoff):
			}
		}
		err := c.post(ctx, body)
		if err == nil {
			return nil
		}
		lastErr = err
		var status statusError
		if errors.As(err, &status) && status.code < http.StatusInternalServerError {
			break
		}
		if ctx.Err() != nil {
			break
		}
	}
	return lastErr
}

const retryBackoff = 50 * time.Millisecond

type statusError struct {
	code int
}

func (e statusError) Error() string {
	return fmt.Sprintf("observer returned %d", e.code)
}

func (c *ObserverClient) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/state-changes", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError{code: resp.StatusCode}
	}
	return nil
}

package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Document is the delivery document (ODS) attached to a rescheduled ticket.
type Document struct {
	FileName string `json:"fileName"`
	FilePath string `json:"filePath"`
	URL      string `json:"url"`
}

// DocumentClient fetches delivery-document URLs from the document service.
type DocumentClient struct {
	baseURL string
	http    *http.Client
}

// NewDocumentClient creates a client for baseURL.
func NewDocumentClient(baseURL string, timeout time.Duration) (*DocumentClient, error) {
	if baseURL == "" {
		return nil, errors.New("ODS_ENDPOINT is required")
	}
	return &DocumentClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}, nil
}

// FetchDocument returns the delivery document of a ticket.
func (c *DocumentClient) FetchDocument(ctx context.Context, ticketID, commerceID string) (Document, error) {
	if c == nil || c.http == nil {
		return Document{}, errors.New("document client not initialized")
	}
	endpoint := fmt.Sprintf("%s/orders/%s/commerce/%s/url", c.baseURL, url.PathEscape(ticketID), url.PathEscape(commerceID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Document{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Document{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Document{}, fmt.Errorf("document service returned %d", resp.StatusCode)
	}

	var out Document
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Document{}, fmt.Errorf("decode document response: %w", err)
	}
	return out, nil
}

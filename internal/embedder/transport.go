package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"net/http"
)

// maxReplyBytes bounds a decoded embeddings response.
const maxReplyBytes = 64 << 20

// StatusError is a non-2xx reply from an embeddings API.
type StatusError struct {
	Code int
	// Message is the API's own error text, if the body carried one.
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.Code)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Message)
}

// reply is a response body that may carry an API error message.
type reply interface {
	errorMessage() string
}

// postJSON sends in as a JSON POST to url and decodes the answer into out.
// A non-2xx status becomes a *StatusError.
func postJSON(ctx context.Context, client *http.Client, url string, header http.Header, in any, out reply) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	maps.Copy(req.Header, header)
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	decodeErr := json.NewDecoder(io.LimitReader(resp.Body, maxReplyBytes)).Decode(out)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{Code: resp.StatusCode}
		if decodeErr == nil {
			se.Message = out.errorMessage()
		}
		return se
	}
	if decodeErr != nil {
		return fmt.Errorf("decode response: %w", decodeErr)
	}
	return nil
}

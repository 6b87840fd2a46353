package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
)

// REST issues GET/POST calls with JSON bodies against a node's REST
// gateway. Header merging and status classification follow the
// Requester rules.
type REST struct {
	req *Requester
}

// NewREST creates a REST engine over the Requester.
func NewREST(req *Requester) *REST {
	return &REST{req: req}
}

// Get fetches path and decodes the body as JSON.
func (r *REST) Get(
	ctx context.Context,
	path string,
	query url.Values,
	headers map[string]string,
) (json.RawMessage, error) {
	if len(query) > 0 {
		path = path + "?" + query.Encode()
	}
	raw, err := r.req.Do(ctx, http.MethodGet, path, nil, headers)
	if err != nil {
		return nil, err
	}
	return validJSON(raw)
}

// GetTolerant fetches path but suppresses failure on exactly one
// expected status (e.g., 404 meaning "not found" rather than broken):
// for that status the raw error body is returned together with the
// status code instead of an error. Any other non-2xx still fails.
func (r *REST) GetTolerant(
	ctx context.Context,
	path string,
	query url.Values,
	headers map[string]string,
	allowStatus int,
) (json.RawMessage, int, error) {
	if len(query) > 0 {
		path = path + "?" + query.Encode()
	}
	raw, err := r.req.Do(ctx, http.MethodGet, path, nil, headers)
	if err != nil {
		var te *TransportError
		if errors.As(err, &te) && te.Status == allowStatus {
			return json.RawMessage(te.Body), te.Status, nil
		}
		return nil, 0, err
	}
	body, err := validJSON(raw)
	return body, http.StatusOK, err
}

// Post sends body as JSON and decodes the JSON response.
func (r *REST) Post(
	ctx context.Context,
	path string,
	body any,
	headers map[string]string,
) (json.RawMessage, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
	}
	raw, err := r.req.Do(ctx, http.MethodPost, path, payload, headers)
	if err != nil {
		return nil, err
	}
	return validJSON(raw)
}

func validJSON(raw []byte) (json.RawMessage, error) {
	var probe json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, &ProtocolError{Message: fmt.Sprintf("parse response: %v", err)}
	}
	return probe, nil
}

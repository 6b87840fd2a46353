package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// ProtocolError is a well-formed HTTP response carrying an invalid or
// failed JSON-RPC payload: the error field is set, the result key is
// missing, or a batch body has the wrong shape.
type ProtocolError struct {
	Code    int
	Message string
}

func (e *ProtocolError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("json-rpc error %d: %s", e.Code, e.Message)
	}
	return e.Message
}

// Request is one JSON-RPC call. Params may be positional ([]any) or
// named (a map or struct), per the target chain's convention.
type Request struct {
	Method string
	Params any
}

// BatchResult is one positional slot of a batch response. Err is set
// when that element carried a remote error or violated the envelope
// rules; siblings are unaffected.
type BatchResult struct {
	Result json.RawMessage
	Err    error
}

type rpcEnvelope struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

// rpcError tolerates both the standard {code,message} spelling and
// the {errorCode,errorMessage} spelling some nodes return.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) UnmarshalJSON(data []byte) error {
	var raw struct {
		Code         int    `json:"code"`
		Message      string `json:"message"`
		ErrorCode    int    `json:"errorCode"`
		ErrorMessage string `json:"errorMessage"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.Code, e.Message = raw.Code, raw.Message
	if e.Code == 0 && raw.ErrorCode != 0 {
		e.Code = raw.ErrorCode
	}
	if e.Message == "" && raw.ErrorMessage != "" {
		e.Message = raw.ErrorMessage
	}
	return nil
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int            `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

// JSONRPC issues JSON-RPC 2.0 calls over a Requester.
// It never retries; retry policy belongs to the caller.
type JSONRPC struct {
	req  *Requester
	path string
}

// NewJSONRPC creates a JSON-RPC engine posting to the Requester's
// base URL.
func NewJSONRPC(req *Requester) *JSONRPC {
	return &JSONRPC{req: req}
}

// NewJSONRPCPath creates a JSON-RPC engine posting to a sub-path of
// the base URL (some gateways mount the RPC under /rpc or similar).
func NewJSONRPCPath(req *Requester, path string) *JSONRPC {
	return &JSONRPC{req: req, path: path}
}

// Call makes a single JSON-RPC call. The request id is always 0.
//
// Extraction rule: a response with an error field fails with a
// *ProtocolError regardless of any result; a response without a
// result key fails with "result not found"; otherwise the raw result
// is returned verbatim, so an explicit null result is a valid value.
func (c *JSONRPC) Call(
	ctx context.Context,
	method string,
	params any,
	headers map[string]string,
) (json.RawMessage, error) {
	body, err := json.Marshal(rpcEnvelope{
		JSONRPC: "2.0",
		ID:      0,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	raw, err := c.req.Do(ctx, http.MethodPost, c.path, body, headers)
	if err != nil {
		return nil, err
	}

	var resp rpcResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &ProtocolError{Message: fmt.Sprintf("parse response: %v", err)}
	}

	return extractResult(&resp)
}

// BatchCall posts calls as one JSON array with ids 0..N-1 in request
// order. The response must be an array of exactly N elements;
// correlation is strictly positional, never by echoed id. Each
// element is extracted with the single-call rule into an aligned
// BatchResult slot.
func (c *JSONRPC) BatchCall(
	ctx context.Context,
	calls []Request,
	headers map[string]string,
) ([]BatchResult, error) {
	envelopes := make([]rpcEnvelope, len(calls))
	for i, call := range calls {
		envelopes[i] = rpcEnvelope{
			JSONRPC: "2.0",
			ID:      i,
			Method:  call.Method,
			Params:  call.Params,
		}
	}

	body, err := json.Marshal(envelopes)
	if err != nil {
		return nil, fmt.Errorf("marshal batch: %w", err)
	}

	raw, err := c.req.Do(ctx, http.MethodPost, c.path, body, headers)
	if err != nil {
		return nil, err
	}

	var probe json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, &ProtocolError{Message: fmt.Sprintf("parse batch response: %v", err)}
	}
	if len(probe) == 0 || probe[0] != '[' {
		return nil, &ProtocolError{Message: "response should be an array"}
	}

	var responses []rpcResponse
	if err := json.Unmarshal(probe, &responses); err != nil {
		return nil, &ProtocolError{Message: fmt.Sprintf("parse batch response: %v", err)}
	}

	if len(responses) != len(calls) {
		return nil, &ProtocolError{Message: fmt.Sprintf(
			"batch with %d calls, but got %d responses", len(calls), len(responses),
		)}
	}

	results := make([]BatchResult, len(responses))
	for i := range responses {
		value, err := extractResult(&responses[i])
		results[i] = BatchResult{Result: value, Err: err}
	}
	return results, nil
}

// extractResult applies the single-call rule. The raw body keeps
// "result": null distinguishable from a missing result key: the
// RawMessage is the literal `null` in the former case and nil in the
// latter.
func extractResult(resp *rpcResponse) (json.RawMessage, error) {
	if resp.Error != nil {
		return nil, &ProtocolError{Code: resp.Error.Code, Message: resp.Error.Message}
	}
	if resp.Result == nil {
		return nil, &ProtocolError{Message: "result not found"}
	}
	return resp.Result, nil
}

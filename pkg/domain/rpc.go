package domain

import (
	"encoding/json"
	"fmt"
)

// Request is a single call sent by a client over the socket.
type Request struct {
	Method     string          `json:"method"`
	Params     []any           `json:"params"`
	ParamTypes []string        `json:"param_types,omitempty"`
	ID         json.RawMessage `json:"id,omitempty"`
}

// Response carries either a result or an error body, never both.
type Response struct {
	Result     json.RawMessage `json:"result,omitempty"`
	ResultType string          `json:"result_type,omitempty"`
	Error      *ErrorBody      `json:"error,omitempty"`
	ID         json.RawMessage `json:"id,omitempty"`
}

// ErrorBody is the standard JSON error model returned to clients.
type ErrorBody struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// NewResultResponse encodes value as the response result.
func NewResultResponse(id json.RawMessage, resultType string, value any) (Response, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return Response{}, fmt.Errorf("encode result: %w", err)
	}
	return Response{Result: raw, ResultType: resultType, ID: id}, nil
}

// NewErrorResponse converts err into a response error body.
func NewErrorResponse(id json.RawMessage, err error) Response {
	return Response{
		Error: &ErrorBody{Kind: KindOf(err), Message: err.Error()},
		ID:    id,
	}
}

// Err returns the response error as a Go error, or nil on success.
func (r Response) Err() error {
	if r.Error == nil {
		return nil
	}
	return &Error{Kind: r.Error.Kind, Message: r.Error.Message}
}

// Decode unmarshals the result into v.
func (r Response) Decode(v any) error {
	if err := r.Err(); err != nil {
		return err
	}
	if len(r.Result) == 0 {
		return fmt.Errorf("response has no result")
	}
	return json.Unmarshal(r.Result, v)
}

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// Request describes one API call.
type Request struct {
	Method string
	// Path is appended to the base URL, e.g. "/api/courses".
	Path  string
	Query url.Values
	// Body is sent as JSON. A []byte or json.RawMessage is sent as is.
	Body   any
	Header http.Header
	// Anonymous requests carry no credentials and never trigger a refresh.
	// Used for login and registration.
	Anonymous bool
}

// Response is a successful (2xx) reply.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
	// NoContent is true for 204 and for 2xx replies with an empty or
	// whitespace-only body.
	NoContent bool
}

// Decode unmarshals the JSON body into v. It is a no-op for responses
// without content.
func (r *Response) Decode(v any) error {
	if r == nil || r.NoContent || v == nil {
		return nil
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return &Error{
			Kind:    KindUnexpectedError,
			Status:  r.Status,
			Message: "response body is not valid JSON",
			Err:     err,
		}
	}
	return nil
}

// Call sends req and decodes the reply into a new T. It returns a nil *T,
// not an error, when the server sent no content.
func Call[T any](ctx context.Context, g *Gateway, req *Request) (*T, error) {
	resp, err := g.Send(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.NoContent {
		return nil, nil
	}
	out := new(T)
	if err := resp.Decode(out); err != nil {
		return nil, err
	}
	return out, nil
}

// encodeBody marshals the request body once so it can be replayed.
func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}
	return data, nil
}

// isEmptyBody reports whether a 2xx body carries no payload.
func isEmptyBody(status int, body []byte) bool {
	return status == http.StatusNoContent || len(bytes.TrimSpace(body)) == 0
}

package httpx

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

// ErrBodyTooLarge is returned by ReadBody when the payload exceeds the configured limit.
var ErrBodyTooLarge = errors.New("httpx: request body too large")

// ReadBody reads at most limit bytes from the request body.
func ReadBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()

	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, ErrBodyTooLarge
	}
	return body, nil
}

// DecodeJSON reads a size-limited body and decodes it into dst, rejecting unknown fields.
// It returns an Error ready to be written when decoding fails.
func DecodeJSON(r *http.Request, limit int64, dst any) *Error {
	body, err := ReadBody(r, limit)
	if err != nil {
		if errors.Is(err, ErrBodyTooLarge) {
			e := NewError("payload_too_large", "request body too large", http.StatusRequestEntityTooLarge)
			return &e
		}
		e := NewError("invalid_request", "unable to read request body", http.StatusBadRequest)
		return &e
	}
	if len(bytes.TrimSpace(body)) == 0 {
		e := NewError("invalid_request", "request body is required", http.StatusBadRequest)
		return &e
	}
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		e := NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest)
		return &e
	}
	return nil
}

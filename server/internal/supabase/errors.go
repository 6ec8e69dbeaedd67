package supabase

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// APIError is a non-2xx response from the backend.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

// errorBody covers the error shapes of PostgREST, storage and GoTrue.
type errorBody struct {
	Message          string          `json:"message"`
	Msg              string          `json:"msg"`
	Error            string          `json:"error"`
	ErrorDescription string          `json:"error_description"`
	Code             json.RawMessage `json:"code"`
	ErrorCode        string          `json:"error_code"`
	StatusCode       string          `json:"statusCode"`
}

func parseAPIError(resp *http.Response) *APIError {
	e := &APIError{Status: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var b errorBody
	if json.Unmarshal(raw, &b) == nil {
		for _, m := range []string{b.Message, b.Msg, b.ErrorDescription, b.Error} {
			if m != "" {
				e.Message = m
				break
			}
		}
		e.Code = b.ErrorCode
		if e.Code == "" && len(b.Code) > 0 {
			var s string
			if json.Unmarshal(b.Code, &s) == nil {
				e.Code = s
			}
		}
		if e.Code == "" && b.Error != "" && b.Error != e.Message {
			e.Code = b.Error
		}
	}
	if e.Message == "" {
		if len(raw) > 0 {
			e.Message = string(raw)
		} else {
			e.Message = http.StatusText(resp.StatusCode)
		}
	}
	return e
}

// StatusOf returns the HTTP status carried by an *APIError in err's chain, or 0.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// IsNotFound reports whether err is a 404 from the backend.
func IsNotFound(err error) bool { return StatusOf(err) == http.StatusNotFound }

// IsUnauthorized reports whether err is a 401 or 403 from the backend.
func IsUnauthorized(err error) bool {
	s := StatusOf(err)
	return s == http.StatusUnauthorized || s == http.StatusForbidden
}

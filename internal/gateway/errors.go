package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-resty/resty/v2"
)

// SuccessCode is the envelope code of a successful backend call.
const SuccessCode = 200

// ErrUnauthorized matches any APIError that signals an invalid session,
// whether by transport status or by envelope code.
var ErrUnauthorized = errors.New("gateway: unauthorized")

// APIError describes a failed backend call.
type APIError struct {
	Method string
	URL    string
	Status int    // transport status
	Code   int    // envelope code, 0 when the body had none
	Msg    string // envelope msg
}

func (e *APIError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("request failed: %s %s (status: %d, code: %d): %s", e.Method, e.URL, e.Status, e.Code, e.Msg)
	}
	return fmt.Sprintf("request failed: %s %s (status: %d, code: %d)", e.Method, e.URL, e.Status, e.Code)
}

// Unauthorized reports whether the failure is a 401-equivalent.
func (e *APIError) Unauthorized() bool {
	return e.Status == 401 || e.Code == 401
}

func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized && e.Unauthorized()
}

// Envelope is the backend's standard response wrapper.
type Envelope[T any] struct {
	Code int    `json:"code"`
	Data T      `json:"data"`
	Msg  string `json:"msg"`
}

// handleError turns transport failures (>399) into errors. Without this,
// failing responses would have nil error.
func handleError(res *resty.Response, err error) (*resty.Response, error) {
	if err != nil {
		return res, err
	}
	if res.IsError() {
		apiErr := &APIError{
			Method: res.Request.Method,
			URL:    res.Request.URL,
			Status: res.StatusCode(),
		}
		if code, ok := embeddedCode(res.Body()); ok {
			apiErr.Code = code
			apiErr.Msg = embeddedMsg(res.Body())
		}
		return res, apiErr
	}
	return res, nil
}

// decode unwraps the envelope of a successful transport response.
func decode[T any](res *resty.Response, err error) (T, error) {
	var zero T
	res, err = handleError(res, err)
	if err != nil {
		return zero, err
	}

	var env Envelope[T]
	if err := json.Unmarshal(res.Body(), &env); err != nil {
		return zero, fmt.Errorf("failed to decode response of %s %s: %w", res.Request.Method, res.Request.URL, err)
	}
	if env.Code != SuccessCode {
		return zero, &APIError{
			Method: res.Request.Method,
			URL:    res.Request.URL,
			Status: res.StatusCode(),
			Code:   env.Code,
			Msg:    env.Msg,
		}
	}
	return env.Data, nil
}

// EnvelopeError returns the failure carried inside a raw response body, if
// any. Bodies without a code are not envelopes and never fail.
func EnvelopeError(res *resty.Response) error {
	if res == nil {
		return nil
	}
	code, ok := embeddedCode(res.Body())
	if !ok || code == SuccessCode {
		return nil
	}
	return &APIError{
		Method: res.Request.Method,
		URL:    res.Request.URL,
		Status: res.StatusCode(),
		Code:   code,
		Msg:    embeddedMsg(res.Body()),
	}
}

// embeddedCode extracts the envelope code from a body. The backend sends it
// as a number but strings are tolerated.
func embeddedCode(body []byte) (int, bool) {
	var probe struct {
		Code json.RawMessage `json:"code"`
	}
	if err := json.Unmarshal(body, &probe); err != nil || len(probe.Code) == 0 {
		return 0, false
	}

	var n int
	if err := json.Unmarshal(probe.Code, &n); err == nil {
		return n, true
	}
	var s string
	if err := json.Unmarshal(probe.Code, &s); err == nil {
		if n, err := strconv.Atoi(s); err == nil {
			return n, true
		}
	}
	return 0, false
}

func embeddedMsg(body []byte) string {
	var probe struct {
		Msg string `json:"msg"`
	}
	_ = json.Unmarshal(body, &probe)
	return probe.Msg
}

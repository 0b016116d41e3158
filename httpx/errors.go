package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Kind buckets a failed request.
type Kind int

const (
	KindNone Kind = iota
	KindBadRequest
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindServer
	KindOther
	// KindNetwork means no response arrived: refused, timed out or cancelled.
	KindNetwork
	// KindSetup means a request interceptor rejected the request before it was sent.
	KindSetup
)

var kindNames = map[Kind]string{
	KindNone:         "none",
	KindBadRequest:   "bad request",
	KindUnauthorized: "unauthorized",
	KindForbidden:    "forbidden",
	KindNotFound:     "not found",
	KindServer:       "server error",
	KindOther:        "unexpected status",
	KindNetwork:      "network error",
	KindSetup:        "request setup",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

var (
	ErrBadRequest   = errors.New("httpx: bad request")
	ErrUnauthorized = errors.New("httpx: unauthorized")
	ErrForbidden    = errors.New("httpx: forbidden")
	ErrNotFound     = errors.New("httpx: not found")
	ErrServer       = errors.New("httpx: server error")
	ErrStatus       = errors.New("httpx: unexpected status")
	ErrNetwork      = errors.New("httpx: network error")
	ErrSetup        = errors.New("httpx: request setup failed")
)

var kindSentinels = map[Kind]error{
	KindBadRequest:   ErrBadRequest,
	KindUnauthorized: ErrUnauthorized,
	KindForbidden:    ErrForbidden,
	KindNotFound:     ErrNotFound,
	KindServer:       ErrServer,
	KindOther:        ErrStatus,
	KindNetwork:      ErrNetwork,
	KindSetup:        ErrSetup,
}

// Error is returned for every failed request. Match buckets with errors.Is
// against the Err* sentinels, or inspect Kind and Status via errors.As.
type Error struct {
	Kind   Kind
	Status int
	Method string
	Path   string
	Body   []byte
	// Err is the transport or interceptor error, if any.
	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "httpx: %s %s: %s", e.Method, e.Path, e.Kind)
	if e.Status > 0 {
		fmt.Fprintf(&b, " (%d)", e.Status)
	}
	if msg := e.Message(); msg != "" {
		b.WriteString(": ")
		b.WriteString(msg)
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e.Kind.
func (e *Error) Is(target error) bool {
	s, ok := kindSentinels[e.Kind]
	return ok && s == target
}

// Message extracts a human readable message from a JSON error body with a
// "message" or "error" field, falling back to the raw body.
func (e *Error) Message() string {
	if len(e.Body) == 0 {
		return ""
	}
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(e.Body, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	msg := strings.TrimSpace(string(e.Body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

// Signature identifies the failing call for log correlation.
func (e *Error) Signature() string {
	return fmt.Sprintf("%s:%s:%d", e.Method, e.Path, e.Status)
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var he *Error
	if errors.As(err, &he) {
		return he.Status
	}
	return 0
}

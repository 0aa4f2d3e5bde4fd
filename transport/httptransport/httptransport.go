// Package httptransport carries requests as HTTP POST bodies. The body is
// encoded with the codec named by the Content-Type header, JSON or
// MessagePack, and the response uses the same codec.
//
// Error responses keep the protocol's error body. The status code mirrors
// the error code so that HTTP tooling can tell failures apart.
package httptransport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/CrimsonAS/qcomponent/logging"
	"github.com/CrimsonAS/qcomponent/transport"
	"github.com/CrimsonAS/qcomponent/wire"
)

// MaxBodySize bounds request and response bodies.
const MaxBodySize = 32 << 20

// StatusFor returns the HTTP status of a response.
func StatusFor(resp *wire.Response) int {
	if resp == nil || resp.Error == nil {
		return http.StatusOK
	}
	switch resp.Error.Code {
	case wire.CodeMalformedQuery:
		return http.StatusBadRequest
	case wire.CodeAccessDenied:
		return http.StatusForbidden
	case wire.CodeUnknownComponent:
		return http.StatusNotFound
	case wire.CodeVersionMismatch, wire.CodeIdentifierImmutable:
		return http.StatusConflict
	case wire.CodeValidationFailed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

type handler struct {
	receiver transport.Receiver
	logger   zerolog.Logger
}

// Handler serves r over HTTP.
func Handler(r transport.Receiver) http.Handler {
	return HandlerWithLogger(r, logging.For("http"))
}

func HandlerWithLogger(r transport.Receiver, logger zerolog.Logger) http.Handler {
	return &handler{receiver: r, logger: logger}
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	codec, err := wire.CodecFor(r.Header.Get("Content-Type"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnsupportedMediaType)
		return
	}

	var resp *wire.Response
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodySize+1))
	switch {
	case err != nil:
		h.logger.Debug().Err(err).Msg("request body read failed")
		return
	case len(body) > MaxBodySize:
		resp = wire.Fail(wire.Errorf(wire.CodeMalformedQuery, "the request body exceeds %d bytes", MaxBodySize))
	default:
		req := &wire.Request{}
		if err := codec.Unmarshal(body, req); err != nil {
			resp = wire.Fail(wire.Errorf(wire.CodeMalformedQuery, "invalid request body: %s", err))
		} else {
			resp = h.receiver.Receive(r.Context(), req)
		}
	}
	if resp == nil {
		resp = wire.Fail(transport.ErrNoReply)
	}

	out, err := codec.Marshal(resp)
	if err != nil {
		h.logger.Error().Err(err).Msg("response encoding failed")
		http.Error(w, "response encoding failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", codec.ContentType())
	w.WriteHeader(StatusFor(resp))
	if _, err := w.Write(out); err != nil {
		h.logger.Debug().Err(err).Msg("response write failed")
	}
}

// Sender posts requests to a URL.
type Sender struct {
	URL    string
	Client *http.Client
	Codec  wire.Codec
	// Header is added to every request.
	Header http.Header
}

// NewSender returns a JSON sender using http.DefaultClient.
func NewSender(url string) *Sender {
	return &Sender{URL: url, Client: http.DefaultClient, Codec: wire.JSON}
}

func (s *Sender) Send(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	codec := s.Codec
	if codec == nil {
		codec = wire.JSON
	}
	body, err := codec.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("httptransport: request encoding failed: %w", err)
	}
	hr, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("httptransport: %w", err)
	}
	for k, vs := range s.Header {
		for _, v := range vs {
			hr.Header.Add(k, v)
		}
	}
	hr.Header.Set("Content-Type", codec.ContentType())
	hr.Header.Set("Accept", codec.ContentType())

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	res, err := client.Do(hr)
	if err != nil {
		return nil, fmt.Errorf("httptransport: %w", err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, MaxBodySize))
	if err != nil {
		return nil, fmt.Errorf("httptransport: response read failed: %w", err)
	}
	resCodec, err := wire.CodecFor(res.Header.Get("Content-Type"))
	if err != nil {
		return nil, &StatusError{Status: res.StatusCode, Body: string(data)}
	}
	resp := &wire.Response{}
	if err := resCodec.Unmarshal(data, resp); err != nil {
		return nil, &StatusError{Status: res.StatusCode, Body: string(data)}
	}
	return resp, nil
}

// StatusError is returned when the server answers without a protocol
// response, as a proxy or an overloaded server might.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("httptransport: unexpected response %d %s", e.Status, http.StatusText(e.Status))
}

// Temporary reports whether retrying may help.
func (e *StatusError) Temporary() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests
}

// ShouldRetry is a retry predicate for clients: failures to reach the
// server and temporary statuses are retried, other answers are final.
func ShouldRetry(err error, retryCount int) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return true
}

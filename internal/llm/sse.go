package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"
)

// sseDone is the sentinel payload closing an OpenAI-style event stream.
const sseDone = "[DONE]"

// scanBufferSize bounds a single SSE line. Vendors occasionally ship
// multi-hundred-KB payloads on one data line.
const scanBufferSize = 1 << 20

type assemblerState int

const (
	stateReady assemblerState = iota
	stateBuffering
)

// chunkAssembler reassembles JSON documents split across SSE data lines.
// Some gateways flush mid-document, so a payload that fails to parse is
// buffered and retried with the next payload appended rather than
// dropped.
type chunkAssembler struct {
	state assemblerState
	buf   strings.Builder
}

// Feed consumes one SSE data payload and returns any complete JSON
// documents now available. An incomplete payload returns nothing and
// moves the assembler to buffering until a later payload completes it.
func (a *chunkAssembler) Feed(payload string) []string {
	candidate := payload
	if a.state == stateBuffering {
		a.buf.WriteString(payload)
		candidate = a.buf.String()
	}
	if json.Valid([]byte(candidate)) {
		a.buf.Reset()
		a.state = stateReady
		return []string{candidate}
	}
	if a.state == stateReady {
		a.buf.WriteString(payload)
		a.state = stateBuffering
	}
	return nil
}

// deltaParser turns one complete vendor JSON document into a normalized
// delta.
type deltaParser func(payload []byte) (StreamDelta, error)

// sseStream adapts an SSE response body to the CompletionStream contract.
type sseStream struct {
	body      io.ReadCloser
	scanner   *bufio.Scanner
	assembler chunkAssembler
	parse     deltaParser
	pending   []StreamDelta
}

func newSSEStream(body io.ReadCloser, parse deltaParser) *sseStream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), scanBufferSize)
	return &sseStream{body: body, scanner: scanner, parse: parse}
}

// Recv returns the next normalized delta. Comment lines and non-data
// fields are skipped; the [DONE] sentinel surfaces as a done delta and a
// closed body as io.EOF.
func (s *sseStream) Recv() (StreamDelta, error) {
	for {
		if len(s.pending) > 0 {
			delta := s.pending[0]
			s.pending = s.pending[1:]
			return delta, nil
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return StreamDelta{}, fmt.Errorf("reading event stream: %w", err)
			}
			return StreamDelta{}, io.EOF
		}
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == sseDone {
			return StreamDelta{Done: true}, nil
		}
		for _, doc := range s.assembler.Feed(data) {
			delta, err := s.parse([]byte(doc))
			if err != nil {
				return StreamDelta{}, err
			}
			s.pending = append(s.pending, delta)
		}
	}
}

func (s *sseStream) Close() error {
	return s.body.Close()
}

type recvResult struct {
	delta StreamDelta
	err   error
}

// consumeStream drains a vendor stream into the sink, emitting one token
// chunk per delta and a terminal chunk when the stream ends.
//
// The idle timer arms only after the first delta arrives; a vendor that
// connects but never speaks is bounded by the request context instead.
// Idle timeouts and caller cancellation resolve with the partial text
// accumulated so far, never an error. A mid-stream vendor error emits an
// abort chunk and likewise resolves with partial text.
func consumeStream(ctx context.Context, sink Sink, stream CompletionStream, props ResponseProps, idleTimeout time.Duration, logger *zap.Logger) (string, error) {
	defer stream.Close()

	results := make(chan recvResult)
	go func() {
		defer close(results)
		for {
			delta, err := stream.Recv()
			select {
			case results <- recvResult{delta: delta, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	var full strings.Builder
	var idle *time.Timer
	var idleC <-chan time.Time
	defer func() {
		if idle != nil {
			idle.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return full.String(), nil

		case <-idleC:
			logger.Warn("vendor stream idle, closing with partial response",
				zap.String("response_id", props.ID),
				zap.Duration("idle_timeout", idleTimeout))
			_ = sink.WriteChunk(CloseChunk(props.ID, props.Sources))
			return full.String(), nil

		case res, ok := <-results:
			if !ok {
				_ = sink.WriteChunk(CloseChunk(props.ID, props.Sources))
				return full.String(), nil
			}
			if res.err != nil {
				if errors.Is(res.err, io.EOF) {
					_ = sink.WriteChunk(CloseChunk(props.ID, props.Sources))
					return full.String(), nil
				}
				logger.Error("vendor stream failed mid-response",
					zap.String("response_id", props.ID),
					zap.Error(res.err))
				_ = sink.WriteChunk(AbortChunk(props.ID, res.err.Error()))
				return full.String(), nil
			}

			if res.delta.Token != "" {
				full.WriteString(res.delta.Token)
				if err := sink.WriteChunk(TokenChunk(props.ID, res.delta.Token)); err != nil {
					// Client disconnected; stop pulling from the vendor.
					return full.String(), nil
				}
			}
			if res.delta.Done {
				_ = sink.WriteChunk(CloseChunk(props.ID, props.Sources))
				return full.String(), nil
			}

			if idleTimeout > 0 {
				if idle == nil {
					idle = time.NewTimer(idleTimeout)
					idleC = idle.C
				} else {
					if !idle.Stop() {
						select {
						case <-idle.C:
						default:
						}
					}
					idle.Reset(idleTimeout)
				}
			}
		}
	}
}

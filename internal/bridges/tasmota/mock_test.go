package tasmota

import (
	"context"
	"errors"
	"net/http"
	"sync"
)

var errStubOffline = errors.New("stub: device offline")

// stubCall records one SetStatus call.
type stubCall struct {
	Command string
	Payload string
}

// StubTransport implements Transport with canned replies.
type StubTransport struct {
	mu sync.Mutex

	// status maps a query command to its reply; missing commands fail.
	status map[string]map[string]any

	// sample is returned by GetData (nil fails).
	sample PollSample

	// setResponse is returned by SetStatus (default 200 with empty body).
	setResponse *Response
	setErr      error

	sets    []stubCall
	queries []string
}

func NewStubTransport() *StubTransport {
	return &StubTransport{status: make(map[string]map[string]any)}
}

func (s *StubTransport) SetReply(command string, body map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[command] = body
}

func (s *StubTransport) RemoveReply(command string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.status, command)
}

func (s *StubTransport) SetSample(sample PollSample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sample = sample
}

func (s *StubTransport) GetStatus(_ context.Context, command string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, command)
	body, ok := s.status[command]
	if !ok {
		return nil, errStubOffline
	}
	return body, nil
}

func (s *StubTransport) SetStatus(_ context.Context, command, payload string) (*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets = append(s.sets, stubCall{Command: command, Payload: payload})
	if s.setErr != nil {
		return nil, s.setErr
	}
	if s.setResponse != nil {
		return s.setResponse, nil
	}
	return &Response{StatusCode: http.StatusOK, Status: "200 OK", Body: map[string]any{}}, nil
}

func (s *StubTransport) GetData(_ context.Context) (PollSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sample == nil {
		return nil, errStubOffline
	}
	return s.sample, nil
}

func (s *StubTransport) Sets() []stubCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]stubCall(nil), s.sets...)
}

// changeRecorder collects Change notifications.
type changeRecorder struct {
	mu      sync.Mutex
	changes []Change
}

func (r *changeRecorder) record(c Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
}

func (r *changeRecorder) For(property string) []Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Change
	for _, c := range r.changes {
		if c.Property == property {
			out = append(out, c)
		}
	}
	return out
}

// recordingLogger captures Warn calls.
type recordingLogger struct {
	noopLogger
	mu    sync.Mutex
	warns []logEntry
}

type logEntry struct {
	Msg  string
	Args []any
}

func (l *recordingLogger) Warn(msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, logEntry{Msg: msg, Args: args})
}

func (l *recordingLogger) Warns() []logEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]logEntry(nil), l.warns...)
}

// argValue returns the value following key in a slog-style argument list.
func argValue(args []any, key string) (any, bool) {
	for i := 0; i+1 < len(args); i += 2 {
		if k, ok := args[i].(string); ok && k == key {
			return args[i+1], true
		}
	}
	return nil, false
}

// testDeps builds propertyDeps wired to a stub and a recorder.
func testDeps(t *StubTransport, rec *changeRecorder, logger Logger) propertyDeps {
	return propertyDeps{
		deviceID:  "dev-1",
		transport: t,
		logger:    orNoop(logger),
		notify: func(name string, value any, source Source) {
			if rec != nil {
				rec.record(Change{DeviceID: "dev-1", Property: name, Value: value, Source: source})
			}
		},
	}
}

package tasks

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vinayprograms/schedkit/contexts"
	"github.com/vinayprograms/schedkit/errors"
)

// FileTask performs a filesystem operation described by the task
// payload. Supported operations are create, read, write, append, and
// delete. Read results land in the execution context's Results under
// the task ID.
type FileTask struct {
	id        uuid.UUID
	operation string
	path      string
	content   string

	validated bool
}

// NewFileTask builds a file runner from the config payload. The
// payload must carry "operation" and "path"; write and append also
// require "content".
func NewFileTask(cfg Config) (*FileTask, error) {
	op, _ := cfg.Payload["operation"].(string)
	path, _ := cfg.Payload["path"].(string)
	content, _ := cfg.Payload["content"].(string)
	return &FileTask{
		id:        cfg.ID,
		operation: op,
		path:      path,
		content:   content,
	}, nil
}

// Step validates the payload on the first call and performs the
// operation on the second, so validation failures surface as a
// separate suspension point.
func (t *FileTask) Step(ctx context.Context, ec *contexts.Context) (bool, error) {
	if !t.validated {
		if err := t.validate(); err != nil {
			return false, err
		}
		t.validated = true
		return false, nil
	}
	return true, t.perform(ec)
}

func (t *FileTask) validate() error {
	switch t.operation {
	case "create", "read", "write", "append", "delete":
	case "":
		return errors.InvalidConfig("file task requires an operation",
			errors.WithTaskID(t.id.String()))
	default:
		return errors.InvalidConfig(fmt.Sprintf("unknown file operation %q", t.operation),
			errors.WithTaskID(t.id.String()))
	}
	if t.path == "" {
		return errors.InvalidConfig("file task requires a path",
			errors.WithTaskID(t.id.String()))
	}
	if (t.operation == "write" || t.operation == "append") && t.content == "" {
		return errors.InvalidConfig(fmt.Sprintf("file %s requires content", t.operation),
			errors.WithTaskID(t.id.String()))
	}
	return nil
}

func (t *FileTask) perform(ec *contexts.Context) error {
	switch t.operation {
	case "create":
		f, err := os.OpenFile(t.path, os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		return f.Close()
	case "read":
		data, err := os.ReadFile(t.path)
		if err != nil {
			return err
		}
		if ec != nil {
			ec.Results[t.id.String()] = map[string]any{
				"path":    t.path,
				"content": string(data),
			}
		}
		return nil
	case "write":
		return os.WriteFile(t.path, []byte(t.content), 0o644)
	case "append":
		f, err := os.OpenFile(t.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		if _, err := f.WriteString(t.content); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	case "delete":
		return os.Remove(t.path)
	}
	return errors.Internal(fmt.Sprintf("unreachable file operation %q", t.operation))
}

// HTTPTask performs an HTTP request described by the task payload and
// records the response status and body into the execution context's
// Results under the task ID.
type HTTPTask struct {
	id      uuid.UUID
	method  string
	url     string
	headers map[string]string
	body    string
	timeout time.Duration

	client    *http.Client
	validated bool
}

// NewHTTPTask builds an HTTP runner from the config payload. The
// payload must carry "url"; "method" defaults to GET. "headers" is an
// optional map of header values and "body" an optional request body.
// The request uses the task's configured timeout.
func NewHTTPTask(cfg Config) (*HTTPTask, error) {
	url, _ := cfg.Payload["url"].(string)
	method, _ := cfg.Payload["method"].(string)
	if method == "" {
		method = http.MethodGet
	}
	body, _ := cfg.Payload["body"].(string)

	headers := make(map[string]string)
	switch h := cfg.Payload["headers"].(type) {
	case map[string]string:
		for k, v := range h {
			headers[k] = v
		}
	case map[string]any:
		for k, v := range h {
			if s, ok := v.(string); ok {
				headers[k] = s
			}
		}
	}

	return &HTTPTask{
		id:      cfg.ID,
		method:  strings.ToUpper(method),
		url:     url,
		headers: headers,
		body:    body,
		timeout: cfg.Timeout,
		client:  &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Step validates the payload on the first call and performs the request
// on the second, recording the response into the context. The request is
// built inside the executing step; each retry attempt runs under its own
// context with an unread body reader.
func (t *HTTPTask) Step(ctx context.Context, ec *contexts.Context) (bool, error) {
	if !t.validated {
		if t.url == "" {
			return false, errors.InvalidConfig("http task requires a url",
				errors.WithTaskID(t.id.String()))
		}
		t.validated = true
		return false, nil
	}

	var body io.Reader
	if t.body != "" {
		body = strings.NewReader(t.body)
	}
	req, err := http.NewRequestWithContext(ctx, t.method, t.url, body)
	if err != nil {
		return false, errors.InvalidConfig("building http request: "+err.Error(),
			errors.WithTaskID(t.id.String()))
	}
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, err
	}
	if ec != nil {
		ec.Results[t.id.String()] = map[string]any{
			"status": resp.StatusCode,
			"body":   string(data),
		}
	}
	if resp.StatusCode >= 400 {
		return false, fmt.Errorf("http %s %s returned status %d", t.method, t.url, resp.StatusCode)
	}
	return true, nil
}

// FuncTask runs an in-memory sequence of step functions, one per Step
// call. Useful for tests and ad-hoc pipeline glue.
type FuncTask struct {
	steps []StepFunc
	next  int
}

// NewFuncTask builds a runner from the given steps. At least one step
// is required.
func NewFuncTask(steps ...StepFunc) (*FuncTask, error) {
	if len(steps) == 0 {
		return nil, errors.InvalidConfig("func task requires at least one step")
	}
	return &FuncTask{steps: steps}, nil
}

// Step runs the next step function. The task is done when the final
// step reports done or all steps have run.
func (t *FuncTask) Step(ctx context.Context, ec *contexts.Context) (bool, error) {
	if t.next >= len(t.steps) {
		return true, nil
	}
	fn := t.steps[t.next]
	t.next++
	done, err := fn(ctx, ec)
	if err != nil {
		return false, err
	}
	if t.next >= len(t.steps) {
		return true, nil
	}
	return done, nil
}

package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/suPer8Hu/hackgpt/internal/logx"
)

// errSkip marks a body line that carries no delta.
var errSkip = errors.New("skip")

// parseLine turns one line of a streamed body into a delta. done ends the
// stream without error; errSkip drops the line.
type parseLine func(line []byte) (delta string, done bool, err error)

// malformedChunk wraps a decode failure so the reader can log and move on.
type malformedChunk struct{ err error }

func (m malformedChunk) Error() string { return "malformed chunk: " + m.err.Error() }

func newJSONRequest(ctx context.Context, url string, body any) (*http.Request, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// checkStatus turns a non-2xx response into an error carrying a bounded
// prefix of the body.
func checkStatus(provider string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = fmt.Sprintf("status %d", resp.StatusCode)
	}
	return fmt.Errorf("%s: %s", provider, msg)
}

// streamLines performs req and feeds every parsed delta to chunks. It
// reports at most one error and never blocks once ctx is done.
func streamLines(ctx context.Context, provider string, client *http.Client, req *http.Request, parse parseLine) (<-chan string, <-chan error) {
	chunks := make(chan string, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		// a stream can outlive the client timeout; ctx bounds it instead
		c := *client
		c.Timeout = 0

		resp, err := c.Do(req)
		if err != nil {
			errs <- err
			return
		}
		defer resp.Body.Close()

		if err := checkStatus(provider, resp); err != nil {
			errs <- err
			return
		}

		sc := bufio.NewScanner(resp.Body)
		sc.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)

		for sc.Scan() {
			line := bytes.TrimSpace(sc.Bytes())
			if len(line) == 0 {
				continue
			}
			delta, done, err := parse(line)
			var bad malformedChunk
			switch {
			case errors.Is(err, errSkip):
				continue
			case errors.As(err, &bad):
				logx.FromContext(ctx).Debug("skipping malformed chunk", "provider", provider, "error", bad.err)
				continue
			case err != nil:
				errs <- err
				return
			}
			if delta != "" && !emit(ctx, chunks, delta) {
				return
			}
			if done {
				return
			}
		}
		if err := sc.Err(); err != nil {
			errs <- err
		}
	}()

	return chunks, errs
}

// failedStream reports err on a stream that never started.
func failedStream(err error) (<-chan string, <-chan error) {
	chunks := make(chan string)
	errs := make(chan error, 1)
	errs <- err
	close(errs)
	close(chunks)
	return chunks, errs
}

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-contrib/sse"

	"github.com/and161185/virtual-atelier/internal/convert"
)

// apiError is a non-2xx answer decoded from the error envelope.
type apiError struct {
	Status  int
	Code    string
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

type apiClient struct {
	base  string
	token string
	http  *http.Client
}

func newClient(base, token string) *apiClient {
	return &apiClient{base: strings.TrimRight(base, "/"), token: token, http: &http.Client{}}
}

func (c *apiClient) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rdr)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// do sends body as JSON and decodes a 2xx answer into out when out is non-nil.
func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	e := &apiError{Status: resp.StatusCode}
	var env struct {
		Error struct {
			Message string `json:"message"`
			Code    string `json:"code"`
		} `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if json.Unmarshal(raw, &env) == nil && env.Error.Message != "" {
		e.Code, e.Message = env.Error.Code, env.Error.Message
	} else {
		e.Message = strings.TrimSpace(string(raw))
	}
	return e
}

func (c *apiClient) verify(ctx context.Context, email string) (convert.VerifyResponse, error) {
	var out convert.VerifyResponse
	err := c.do(ctx, http.MethodPost, "/api/auth/verify", convert.EmailRequest{Email: email}, &out)
	return out, err
}

// batchStream is a decoded server-sent batch: results in arrival order and the summary.
type batchStream struct {
	Results []convert.ResultEvent
	Done    convert.DoneEvent
	HasDone bool
}

// runBatch posts a batch and reads the event stream to the end, handing each result to
// onResult as soon as its event arrives.
func (c *apiClient) runBatch(ctx context.Context, req convert.BatchRequest, onResult func(convert.ResultEvent)) (batchStream, error) {
	hreq, err := c.newRequest(ctx, http.MethodPost, "/api/studio/batches", req)
	if err != nil {
		return batchStream{}, err
	}
	hreq.Header.Set("Accept", "text/event-stream")
	resp, err := c.http.Do(hreq)
	if err != nil {
		return batchStream{}, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return batchStream{}, err
	}

	var out batchStream
	err = eachEvent(resp.Body, func(ev sse.Event) error {
		return out.apply(ev, onResult)
	})
	if err != nil {
		return out, err
	}
	if !out.HasDone {
		return out, fmt.Errorf("stream ended before the batch finished")
	}
	return out, nil
}

// eachEvent splits r into blank-line terminated event blocks and decodes each one as it
// completes.
func eachEvent(r io.Reader, fn func(sse.Event) error) error {
	br := bufio.NewReader(r)
	var block strings.Builder
	flush := func() error {
		if block.Len() == 0 {
			return nil
		}
		block.WriteString("\n")
		events, err := sse.Decode(strings.NewReader(block.String()))
		block.Reset()
		if err != nil {
			return fmt.Errorf("decode stream: %w", err)
		}
		for _, ev := range events {
			if err := fn(ev); err != nil {
				return err
			}
		}
		return nil
	}
	for {
		raw, err := br.ReadString('\n')
		line := strings.TrimRight(raw, "\r\n")
		switch {
		case line != "":
			block.WriteString(line + "\n")
		case raw != "":
			if ferr := flush(); ferr != nil {
				return ferr
			}
		}
		if err == io.EOF {
			return flush()
		}
		if err != nil {
			return fmt.Errorf("read stream: %w", err)
		}
	}
}

func (b *batchStream) apply(ev sse.Event, onResult func(convert.ResultEvent)) error {
	data := fmt.Sprint(ev.Data)
	switch ev.Event {
	case "result":
		var r convert.ResultEvent
		if err := json.Unmarshal([]byte(data), &r); err != nil {
			return fmt.Errorf("result event: %w", err)
		}
		b.Results = append(b.Results, r)
		if onResult != nil {
			onResult(r)
		}
	case "done":
		if err := json.Unmarshal([]byte(data), &b.Done); err != nil {
			return fmt.Errorf("done event: %w", err)
		}
		b.HasDone = true
	}
	return nil
}

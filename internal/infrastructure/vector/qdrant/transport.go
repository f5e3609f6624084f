package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/kirillkom/hybrid-rag-agent/internal/infrastructure/resilience"
)

func (i *Index) do(ctx context.Context, method, path string, payload any, out any, operation string) error {
	return i.doWith(ctx, i.executor, method, path, payload, out, operation)
}

func (i *Index) doWith(ctx context.Context, executor *resilience.Executor, method, path string, payload any, out any, operation string) error {
	var body []byte
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s body: %w", operation, err)
		}
		body = raw
	}

	call := func(ctx context.Context) error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, i.baseURL+path, reader)
		if err != nil {
			return fmt.Errorf("create %s request: %w", operation, err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if i.apiKey != "" {
			req.Header.Set("api-key", i.apiKey)
		}

		resp, err := i.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("qdrant %s request: %w", operation, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			return resilience.NewStatusError("qdrant", operation, resp)
		}
		if out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s response: %w", operation, err)
		}
		return nil
	}

	var err error
	if executor == nil {
		err = call(ctx)
	} else {
		err = executor.Execute(ctx, "qdrant."+operation, call, classifyQdrantError)
	}
	return resilience.WrapTemporaryIfNeeded("qdrant "+operation, err, classifyQdrantError)
}

// classifyQdrantError treats a missing collection as an answer, not a failure.
func classifyQdrantError(err error) resilience.ErrorClassification {
	if isNotFound(err) {
		return resilience.ErrorClassification{}
	}
	return resilience.ClassifyHTTPError(err)
}

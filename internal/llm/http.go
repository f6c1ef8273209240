package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"toolchat/internal/domain"
	"toolchat/internal/retry"
)

// maxErrorBody caps how much of a failed response is kept in the error.
const maxErrorBody = 4096

// endpoint is the JSON-over-HTTP transport shared by the hosted providers.
type endpoint struct {
	name    string // prefixes errors, e.g. "openai api: 429 ..."
	client  *http.Client
	marshal func(v any) ([]byte, error) // replaced in tests
}

func newEndpoint(name string) endpoint {
	return endpoint{name: name, client: &http.Client{}, marshal: json.Marshal}
}

// post sends body to url and decodes a 200 reply into out. Other statuses
// become a *retry.StatusError.
func (e endpoint) post(ctx context.Context, url string, headers map[string]string, body, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := e.marshal(body)
	if err != nil {
		return fmt.Errorf("%s marshal: %w", e.name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("%s request: %w", e.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s do: %w", e.name, err)
	}
	defer resp.Body.Close()
	if err := checkStatus(e.name, resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s decode: %w", e.name, err)
	}
	return nil
}

// checkStatus converts a non-200 response into a *retry.StatusError so the
// retry layer and key pool can classify it.
func checkStatus(provider string, resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return retry.NewStatusError(provider, resp, body)
}

// modelFor picks the per-request model override, falling back to the provider default.
func modelFor(req domain.CompletionRequest, fallback string) string {
	if req.Model != "" {
		return req.Model
	}
	return fallback
}

// jsonInstruction is appended to the system prompt for providers without a native JSON mode.
const jsonInstruction = "Respond with a single valid JSON object and nothing else."

func systemWithJSON(req domain.CompletionRequest) string {
	sys := req.SystemPrompt()
	if !req.JSONMode {
		return sys
	}
	if sys == "" {
		return jsonInstruction
	}
	return sys + "\n\n" + jsonInstruction
}

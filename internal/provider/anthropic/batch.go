// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package anthropic

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/pdiddy/catalog-enricher/internal/provider"
)

// batchRequestItem is one entry of a Message Batches create request.
type batchRequestItem struct {
	CustomID string         `json:"custom_id"`
	Params   messageRequest `json:"params"`
}

type createBatchRequest struct {
	Requests []batchRequestItem `json:"requests"`
}

// batchResponse is the Message Batch object returned by create and retrieve.
type batchResponse struct {
	ID               string `json:"id"`
	ProcessingStatus string `json:"processing_status"`
	RequestCounts    struct {
		Processing int `json:"processing"`
		Succeeded  int `json:"succeeded"`
		Errored    int `json:"errored"`
		Canceled   int `json:"canceled"`
		Expired    int `json:"expired"`
	} `json:"request_counts"`
	ResultsURL string `json:"results_url"`
}

// batchResultLine is one line of the JSONL results file.
type batchResultLine struct {
	CustomID string `json:"custom_id"`
	Result   struct {
		Type    string          `json:"type"`
		Message messageResponse `json:"message"`
		Error   apiError        `json:"error"`
	} `json:"result"`
}

// Submit creates a Message Batch for reqs and returns its id.
func (c *Client) Submit(ctx context.Context, reqs []provider.BatchRequest) (string, error) {
	if len(reqs) == 0 {
		return "", errors.New("batch submit: no requests")
	}
	body := createBatchRequest{Requests: make([]batchRequestItem, 0, len(reqs))}
	for _, r := range reqs {
		prompt, err := provider.RenderRequest(r)
		if err != nil {
			return "", fmt.Errorf("batch submit: %w", err)
		}
		body.Requests = append(body.Requests, batchRequestItem{
			CustomID: provider.WireID(r.Kind, r.CustomID),
			Params:   c.params(prompt),
		})
	}

	var resp batchResponse
	if err := c.do(ctx, "batch submit", http.MethodPost, c.BaseURL+"/v1/messages/batches", body, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", provider.Fatal("batch submit", errors.New("response has no batch id"))
	}
	return resp.ID, nil
}

// Poll retrieves the processing status of a batch.
func (c *Client) Poll(ctx context.Context, jobID string) (provider.BatchStatus, error) {
	resp, err := c.retrieve(ctx, jobID)
	if err != nil {
		return provider.BatchStatus{}, err
	}
	st := provider.BatchStatus{
		ID:        resp.ID,
		Succeeded: resp.RequestCounts.Succeeded,
		Errored:   resp.RequestCounts.Errored + resp.RequestCounts.Canceled + resp.RequestCounts.Expired,
		Pending:   resp.RequestCounts.Processing,
	}
	switch resp.ProcessingStatus {
	case "ended":
		st.State = provider.BatchEnded
	case "in_progress", "canceling":
		st.State = provider.BatchInProgress
	default:
		st.State = provider.BatchFailed
		st.Message = fmt.Sprintf("unexpected processing status %q", resp.ProcessingStatus)
	}
	return st, nil
}

func (c *Client) retrieve(ctx context.Context, jobID string) (batchResponse, error) {
	var resp batchResponse
	err := c.do(ctx, "batch poll", http.MethodGet, c.BaseURL+"/v1/messages/batches/"+jobID, nil, &resp)
	return resp, err
}

// Fetch downloads the results of an ended batch. Per-item failures are
// reported in BatchResult.Err. Invalid requests and unparseable replies are
// fatal; everything else that did not succeed is transient.
func (c *Client) Fetch(ctx context.Context, jobID string) ([]provider.BatchResult, error) {
	meta, err := c.retrieve(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if meta.ProcessingStatus != "ended" {
		return nil, provider.Transient("batch fetch", fmt.Errorf("batch %s is %s", jobID, meta.ProcessingStatus))
	}
	if meta.ResultsURL == "" {
		return nil, provider.Fatal("batch fetch", fmt.Errorf("batch %s has no results url", jobID))
	}

	resp, err := c.send(ctx, "batch fetch", http.MethodGet, meta.ResultsURL, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var results []provider.BatchResult
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64<<10), 16<<20)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rl batchResultLine
		if err := json.Unmarshal(line, &rl); err != nil {
			return results, provider.Fatal("batch fetch", fmt.Errorf("decoding result line: %w", err))
		}
		results = append(results, decodeResult(rl))
	}
	if err := sc.Err(); err != nil {
		return results, provider.Transient("batch fetch", err)
	}
	return results, nil
}

func decodeResult(rl batchResultLine) provider.BatchResult {
	const op = "batch item"
	kind, id, ok := provider.ParseWireID(rl.CustomID)
	if !ok {
		return provider.BatchResult{CustomID: rl.CustomID, Err: provider.Fatal(op, fmt.Errorf("unrecognized custom id %q", rl.CustomID))}
	}
	switch rl.Result.Type {
	case "succeeded":
		text := rl.Result.Message.text()
		if text == "" {
			return provider.BatchResult{CustomID: id, Err: provider.Fatal(op, errors.New("empty response content"))}
		}
		return provider.ParseResult(id, kind, text)
	case "errored":
		e := rl.Result.Error.Error
		err := fmt.Errorf("%s: %s", e.Type, e.Message)
		if e.Type == "invalid_request_error" {
			return provider.BatchResult{CustomID: id, Err: provider.Fatal(op, err)}
		}
		return provider.BatchResult{CustomID: id, Err: provider.Transient(op, err)}
	default:
		return provider.BatchResult{CustomID: id, Err: provider.Transient(op, fmt.Errorf("request %s", rl.Result.Type))}
	}
}

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vectral-ai/corpus-engine/internal/domain"
	"github.com/vectral-ai/corpus-engine/internal/jobs"
	"github.com/vectral-ai/corpus-engine/internal/search"
)

// apiClient talks to a corpus-api instance over HTTP.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		// No overall timeout: SSE streams and large uploads run long.
		http: &http.Client{},
	}
}

type uploadResult struct {
	Jobs []jobs.State `json:"jobs"`
}

type documentList struct {
	Documents []domain.Document `json:"documents"`
}

type chunkResults struct {
	Results []domain.ScoredChunk `json:"results"`
}

type headerResults struct {
	Results []domain.ScoredDocument `json:"results"`
}

type hybridResults struct {
	Results []search.HybridResult `json:"results"`
}

type imageResults struct {
	Results []domain.ScoredImage `json:"results"`
}

type apiError struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func (c *apiClient) upload(ctx context.Context, paths []string, tenant string, metadata map[string]string) (*uploadResult, error) {
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)

	if tenant != "" {
		if err := mw.WriteField("tenant_id", tenant); err != nil {
			return nil, err
		}
	}
	if len(metadata) > 0 {
		raw, err := json.Marshal(metadata)
		if err != nil {
			return nil, err
		}
		if err := mw.WriteField("metadata", string(raw)); err != nil {
			return nil, err
		}
	}

	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		part, err := mw.CreateFormFile("files", filepath.Base(path))
		if err == nil {
			_, err = io.Copy(part, f)
		}
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("attach %s: %w", path, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/documents", buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var result uploadResult
	if err := c.do(req, http.StatusAccepted, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *apiClient) job(ctx context.Context, jobID string) (*jobs.State, error) {
	var state jobs.State
	if err := c.get(ctx, "/api/v1/jobs/"+url.PathEscape(jobID), &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// streamJob follows a job's SSE stream, invoking fn for each snapshot until
// the server sends the done marker or ctx ends.
func (c *apiClient) streamJob(ctx context.Context, jobID string, fn func(jobs.State)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/v1/jobs/"+url.PathEscape(jobID)+"/stream", nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return readAPIError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == `{"done":true}` {
			return nil
		}
		var state jobs.State
		if err := json.Unmarshal([]byte(payload), &state); err != nil {
			return fmt.Errorf("malformed stream event: %w", err)
		}
		fn(state)
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return fmt.Errorf("stream ended without completion marker")
}

func (c *apiClient) listDocuments(ctx context.Context, tenant string) ([]domain.Document, error) {
	path := "/api/v1/documents"
	if tenant != "" {
		path += "?tenant_id=" + url.QueryEscape(tenant)
	}
	var list documentList
	if err := c.get(ctx, path, &list); err != nil {
		return nil, err
	}
	return list.Documents, nil
}

func (c *apiClient) deleteDocument(ctx context.Context, documentID, tenant string) (*domain.DeleteResult, error) {
	path := "/api/v1/documents/" + url.PathEscape(documentID)
	if tenant != "" {
		path += "?tenant_id=" + url.QueryEscape(tenant)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	var result domain.DeleteResult
	if err := c.do(req, http.StatusOK, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *apiClient) searchChunks(ctx context.Context, query, tenant string, k int, docs []string) ([]domain.ScoredChunk, error) {
	var out chunkResults
	err := c.post(ctx, "/api/v1/search", map[string]any{
		"query": query, "tenant_id": tenant, "k": k, "document_names": docs,
	}, &out)
	return out.Results, err
}

func (c *apiClient) searchHeaders(ctx context.Context, query, tenant string, k int) ([]domain.ScoredDocument, error) {
	var out headerResults
	err := c.post(ctx, "/api/v1/search/headers", map[string]any{
		"query": query, "tenant_id": tenant, "k": k,
	}, &out)
	return out.Results, err
}

func (c *apiClient) searchHybrid(ctx context.Context, query, tenant string, headerK, chunkK int) ([]search.HybridResult, error) {
	var out hybridResults
	err := c.post(ctx, "/api/v1/search/hybrid", map[string]any{
		"query": query, "tenant_id": tenant, "header_k": headerK, "chunk_k": chunkK,
	}, &out)
	return out.Results, err
}

func (c *apiClient) searchImages(ctx context.Context, query string, k int, docs []string) ([]domain.ScoredImage, error) {
	var out imageResults
	err := c.post(ctx, "/api/v1/search/images", map[string]any{
		"query": query, "k": k, "document_ids": docs,
	}, &out)
	return out.Results, err
}

func (c *apiClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, http.StatusOK, out)
}

func (c *apiClient) post(ctx context.Context, path string, body any, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, http.StatusOK, out)
}

func (c *apiClient) do(req *http.Request, wantStatus int, out any) error {
	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		return readAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response from %s after %s: %w", req.URL.Path, FormatDuration(time.Since(started)), err)
	}
	return nil
}

func readAPIError(resp *http.Response) error {
	var body apiError
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
		return fmt.Errorf("%s", body.Error)
	}
	return fmt.Errorf("unexpected status %s from %s", resp.Status, resp.Request.URL.Path)
}

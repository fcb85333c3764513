package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	checklistMaxBytes    int64 = 1 << 20
	checklistFetchRetry        = 2
	defaultFetchTimeout        = 10 * time.Second
)

// LoadChecklist resolves the landing checklist from a local path or an
// http(s) URL. An empty source yields the default checklist.
func LoadChecklist(ctx context.Context, source string) (ChecklistFile, error) {
	if !isRemote(source) {
		return LoadChecklistFile(source)
	}

	data, err := fetchChecklist(ctx, source, defaultFetchTimeout)
	if err != nil {
		return ChecklistFile{}, err
	}
	return parseChecklist(data, DefaultChecklist())
}

func isRemote(source string) bool {
	lower := strings.ToLower(source)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func fetchChecklist(ctx context.Context, url string, timeout time.Duration) ([]byte, error) {
	client := retryablehttp.NewClient()
	client.RetryMax = checklistFetchRetry
	client.RetryWaitMin = 100 * time.Millisecond
	client.RetryWaitMax = time.Second
	client.Logger = nil
	client.HTTPClient.Timeout = timeout

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create checklist request: %w", err)
	}
	req.Header.Set("Accept", "application/yaml, text/yaml, text/plain")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch checklist: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch checklist: unexpected status: %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, checklistMaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read checklist: %w", err)
	}
	if int64(len(body)) > checklistMaxBytes {
		return nil, fmt.Errorf("checklist body exceeds %d bytes", checklistMaxBytes)
	}
	if len(body) == 0 {
		return nil, errors.New("checklist body is empty")
	}
	return body, nil
}

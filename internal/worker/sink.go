// internal/worker/sink.go
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/searchlab/searchtrace/internal/types"
)

// HTTPSink posts upload batches to the collector endpoint. Any 2xx
// response acknowledges the batch; everything else is an error that feeds
// the retry policy.
type HTTPSink struct {
	endpoint string
	client   *http.Client
}

func NewHTTPSink(endpoint string) *HTTPSink {
	return &HTTPSink{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *HTTPSink) Upload(ctx context.Context, upload *types.UploadRequest) error {
	body, err := json.Marshal(upload)
	if err != nil {
		return fmt.Errorf("marshal upload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post upload: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("sink returned status %d", resp.StatusCode)
	}
	return nil
}

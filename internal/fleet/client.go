package fleet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	contracts "postaty/internal/contracts/fleet/v1"
	"postaty/internal/ports"
)

const defaultCallTimeout = 30 * time.Second

// HTTPClient implements ports.FleetClient against the render fleet's HTTP
// front. Every call carries a timeout; a timeout is a transient failure for
// the orchestrator's budgets, never a silent success.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPClient(baseURL string, callTimeout time.Duration) *HTTPClient {
	if callTimeout == 0 {
		callTimeout = defaultCallTimeout
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: callTimeout},
	}
}

func (c *HTTPClient) Submit(ctx context.Context, req ports.SubmitRequest) (ports.Dispatch, error) {
	sub := contracts.RenderSubmission{
		JobID:          req.JobID,
		SourceAssetURL: req.SourceAssetURL,
		ImageURLs:      req.ImageURLs,
		AudioURL:       req.AudioURL,
		OutputKind:     req.OutputKind,
		FPS:            req.FPS,
		Params:         req.Params,
	}
	sub.Output.VideoObjectKey = req.OutputKey
	for _, p := range req.Partitions {
		sub.Partitions = append(sub.Partitions, contracts.FramePartition{
			Index:      p.Index,
			StartFrame: p.Start,
			EndFrame:   p.End,
		})
	}

	body, err := json.Marshal(sub)
	if err != nil {
		return ports.Dispatch{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/render", bytes.NewReader(body))
	if err != nil {
		return ports.Dispatch{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(httpReq)
	if err != nil {
		return ports.Dispatch{}, err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return ports.Dispatch{}, fmt.Errorf("fleet submit http %d", res.StatusCode)
	}

	var ack contracts.RenderAck
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(&ack); err != nil {
		return ports.Dispatch{}, fmt.Errorf("fleet submit decode: %w", err)
	}
	if ack.RenderID == "" || ack.StatusURL == "" {
		return ports.Dispatch{}, fmt.Errorf("fleet submit: incomplete ack")
	}

	return ports.Dispatch{TrackingHandle: ack.RenderID, ResourceLocator: ack.StatusURL}, nil
}

func (c *HTTPClient) Poll(ctx context.Context, d ports.Dispatch) (ports.PollStatus, error) {
	statusURL := d.ResourceLocator
	if strings.HasPrefix(statusURL, "/") {
		statusURL = c.baseURL + statusURL
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
	if err != nil {
		return ports.PollStatus{}, err
	}
	httpReq.Header.Set("X-Render-ID", d.TrackingHandle)

	res, err := c.client.Do(httpReq)
	if err != nil {
		return ports.PollStatus{}, err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return ports.PollStatus{}, fmt.Errorf("fleet poll http %d", res.StatusCode)
	}

	var st contracts.RenderStatus
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(&st); err != nil {
		return ports.PollStatus{}, fmt.Errorf("fleet poll decode: %w", err)
	}

	return ports.PollStatus{
		Done:            st.Done,
		Progress:        st.Progress,
		OutputKey:       st.OutputKey,
		OutputSizeBytes: st.OutputSizeBytes,
		FatalError:      st.Error,
	}, nil
}

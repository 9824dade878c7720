package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const (
	huggingFaceBaseURL = "https://api-inference.huggingface.co"

	// The hosted inference endpoint rejects bodies above roughly 10 MB.
	huggingFaceMaxPayload = 10 << 20
)

// HuggingFaceClient calls the Hugging Face inference API, which takes the
// raw audio bytes as the request body.
type HuggingFaceClient struct {
	opts   Options
	client *http.Client
}

// NewHuggingFaceClient creates a Hugging Face inference client.
func NewHuggingFaceClient(opts Options) *HuggingFaceClient {
	opts = opts.withDefaults(huggingFaceBaseURL, "openai/whisper-large-v3-turbo", huggingFaceMaxPayload)
	return &HuggingFaceClient{
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
	}
}

func (hc *HuggingFaceClient) ID() ProviderID          { return HuggingFace }
func (hc *HuggingFaceClient) Model() string           { return hc.opts.Model }
func (hc *HuggingFaceClient) MaxPayload() int64       { return hc.opts.MaxPayload }
func (hc *HuggingFaceClient) PrefersCompressed() bool { return true }

// hfResponse covers both pipeline output shapes: "chunks" with
// [start, end] timestamp pairs, or whisper-style "segments".
type hfResponse struct {
	Text   string `json:"text"`
	Chunks []struct {
		Timestamp []float64 `json:"timestamp"`
		Text      string    `json:"text"`
	} `json:"chunks"`
	Segments []struct {
		Start float64 `json:"start"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

func (hc *HuggingFaceClient) Transcribe(ctx context.Context, audio []byte, mediaType, credential string) (*Response, error) {
	url := fmt.Sprintf("%s/models/%s", hc.opts.BaseURL, hc.opts.Model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(audio))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if mediaType == "" {
		mediaType = "audio/wav"
	}
	req.Header.Set("Content-Type", mediaType)
	req.Header.Set("Authorization", "Bearer "+credential)
	// Block through a cold start instead of failing with 503.
	req.Header.Set("X-Wait-For-Model", "true")

	resp, err := hc.client.Do(req)
	if err != nil {
		return nil, transportError(HuggingFace, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(HuggingFace, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyResponse(HuggingFace, resp.StatusCode, body)
	}

	var result hfResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &Error{Kind: KindUnknown, Provider: HuggingFace, Status: resp.StatusCode, Message: "decode response", Err: err}
	}

	out := &Response{Text: result.Text}
	switch {
	case len(result.Chunks) > 0:
		for _, c := range result.Chunks {
			var at float64
			if len(c.Timestamp) > 0 {
				at = c.Timestamp[0]
			}
			out.Segments = append(out.Segments, Segment{Time: at, Text: c.Text})
		}
	case len(result.Segments) > 0:
		for _, s := range result.Segments {
			out.Segments = append(out.Segments, Segment{Time: s.Start, Text: s.Text})
		}
	}
	return finish(out), nil
}

// Probe queries the model status endpoint.
func (hc *HuggingFaceClient) Probe(ctx context.Context, credential string) error {
	return probe(ctx, hc.client, HuggingFace, fmt.Sprintf("%s/status/%s", hc.opts.BaseURL, hc.opts.Model), credential)
}

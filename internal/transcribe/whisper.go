package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gabriel-vasile/mimetype"
)

const (
	openAIBaseURL = "https://api.openai.com"
	groqBaseURL   = "https://api.groq.com"

	// Both services reject request bodies above 25 MB.
	whisperMaxPayload = 25 << 20
)

// WhisperClient calls an OpenAI-compatible /audio/transcriptions endpoint.
// OpenAI and Groq share the wire format and differ only in paths and
// defaults.
type WhisperClient struct {
	id         ProviderID
	opts       Options
	path       string
	probePath  string
	compressed bool
	client     *http.Client
}

// NewOpenAIClient creates a client for the OpenAI transcription API.
func NewOpenAIClient(opts Options) *WhisperClient {
	opts = opts.withDefaults(openAIBaseURL, "whisper-1", whisperMaxPayload)
	return &WhisperClient{
		id:         OpenAI,
		opts:       opts,
		path:       "/v1/audio/transcriptions",
		probePath:  "/v1/models/" + opts.Model,
		compressed: true,
		client:     &http.Client{Timeout: opts.Timeout},
	}
}

// NewGroqClient creates a client for Groq's OpenAI-compatible API.
func NewGroqClient(opts Options) *WhisperClient {
	opts = opts.withDefaults(groqBaseURL, "whisper-large-v3-turbo", whisperMaxPayload)
	return &WhisperClient{
		id:        Groq,
		opts:      opts,
		path:      "/openai/v1/audio/transcriptions",
		probePath: "/openai/v1/models",
		client:    &http.Client{Timeout: opts.Timeout},
	}
}

func (wc *WhisperClient) ID() ProviderID          { return wc.id }
func (wc *WhisperClient) Model() string           { return wc.opts.Model }
func (wc *WhisperClient) MaxPayload() int64       { return wc.opts.MaxPayload }
func (wc *WhisperClient) PrefersCompressed() bool { return wc.compressed }

// whisperResponse is the verbose_json response body.
type whisperResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

// Transcribe uploads one chunk as multipart/form-data.
func (wc *WhisperClient) Transcribe(ctx context.Context, audio []byte, mediaType, credential string) (*Response, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", uploadName(mediaType))
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return nil, fmt.Errorf("copy audio data: %w", err)
	}

	w.WriteField("model", wc.opts.Model)
	w.WriteField("language", wc.opts.Language)
	w.WriteField("temperature", fmt.Sprintf("%.2f", wc.opts.Temperature))
	w.WriteField("response_format", "verbose_json")
	w.WriteField("timestamp_granularities[]", "segment")
	w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wc.opts.BaseURL+wc.path, &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+credential)

	resp, err := wc.client.Do(req)
	if err != nil {
		return nil, transportError(wc.id, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(wc.id, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyResponse(wc.id, resp.StatusCode, body)
	}

	var result whisperResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &Error{Kind: KindUnknown, Provider: wc.id, Status: resp.StatusCode, Message: "decode response", Err: err}
	}

	out := &Response{
		Text:     result.Text,
		Language: result.Language,
		Duration: result.Duration,
	}
	for _, s := range result.Segments {
		out.Segments = append(out.Segments, Segment{Time: s.Start, Text: s.Text})
	}
	return finish(out), nil
}

// Probe lists the model to confirm the service is up and the key works.
func (wc *WhisperClient) Probe(ctx context.Context, credential string) error {
	return probe(ctx, wc.client, wc.id, wc.opts.BaseURL+wc.probePath, credential)
}

func probe(ctx context.Context, client *http.Client, id ProviderID, url, credential string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+credential)

	resp, err := client.Do(req)
	if err != nil {
		return transportError(id, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK {
		return classifyResponse(id, resp.StatusCode, body)
	}
	return nil
}

// uploadName picks a filename whose extension matches the media type;
// the OpenAI-compatible endpoints sniff the format from it.
func uploadName(mediaType string) string {
	if m := mimetype.Lookup(mediaType); m != nil && m.Extension() != "" {
		return "audio" + m.Extension()
	}
	return "audio.wav"
}

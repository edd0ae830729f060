package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Message is the block-based payload posted to a webhook.
type Message struct {
	Blocks []Block `json:"blocks"`
}

// Block is one layout block.
type Block struct {
	Type string `json:"type"`
	Text *Text  `json:"text,omitempty"`
}

// Text is the text body of a block.
type Text struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Header builds a plain-text header block.
func Header(text string) Block {
	return Block{Type: "header", Text: &Text{Type: "plain_text", Text: text}}
}

// Section builds a markdown section block.
func Section(markdown string) Block {
	return Block{Type: "section", Text: &Text{Type: "mrkdwn", Text: markdown}}
}

// Writer posts messages to webhook endpoints. Delivery is best-effort and
// never retried here.
type Writer struct {
	headers map[string]string
	client  *http.Client
}

// Config configures the webhook writer.
type Config struct {
	Timeout time.Duration
	Headers map[string]string
}

// NewWriter creates a webhook writer.
func NewWriter(cfg Config) *Writer {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Writer{
		headers: cfg.Headers,
		client:  &http.Client{Timeout: timeout},
	}
}

// Post sends one message to the given URL.
func (w *Writer) Post(url string, msg Message) error {
	if url == "" {
		return fmt.Errorf("webhook URL is empty")
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequest("POST", url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("http request failed with status %s", resp.Status)
	}
	return nil
}

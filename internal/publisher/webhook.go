package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// WebhookPublisher delivers the post as a multipart form to a tenant-owned
// endpoint. The credential's account reference is the webhook URL and the
// access token is sent as a bearer token.
type WebhookPublisher struct {
	client *http.Client
}

func NewWebhookPublisher() *WebhookPublisher {
	return &WebhookPublisher{client: http.DefaultClient}
}

func (p *WebhookPublisher) Publish(ctx context.Context, cred Credential, content Content) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if err := writer.WriteField("caption", content.Caption); err != nil {
		return "", permanentErr(0, "error building form: %v", err)
	}
	if content.Title != "" {
		if err := writer.WriteField("title", content.Title); err != nil {
			return "", permanentErr(0, "error building form: %v", err)
		}
	}
	for _, u := range content.MediaURLs {
		if err := writer.WriteField("media_url", u); err != nil {
			return "", permanentErr(0, "error building form: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		return "", permanentErr(0, "error building form: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", cred.AccountRef, &buf)
	if err != nil {
		return "", permanentErr(0, "error creating request: %v", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if cred.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", transientErr(0, "HTTP request error: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", transientErr(resp.StatusCode, "error reading response body: %v", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", classifyStatus(resp.StatusCode, string(respBody))
	}

	// Endpoints are not required to return a body; make up a delivery id
	// when they don't.
	var result struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(respBody, &result); err == nil && result.ID != "" {
		return result.ID, nil
	}

	id, err := gonanoid.New()
	if err != nil {
		slog.Info(err.Error())
		return "", permanentErr(resp.StatusCode, "error generating delivery id: %v", err)
	}
	return "webhook-" + id, nil
}

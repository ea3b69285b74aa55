package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

const facebookGraphBase = "https://graph.facebook.com/v21.0"

// graphErrorResponse is the error envelope shared by the Facebook and
// Instagram Graph APIs.
type graphErrorResponse struct {
	Error struct {
		Message      string `json:"message"`
		Type         string `json:"type"`
		Code         int    `json:"code"`
		ErrorSubcode int    `json:"error_subcode"`
		FbtraceID    string `json:"fbtrace_id"`
	} `json:"error"`
}

// Graph error code for an expired or invalidated access token.
const graphCodeTokenExpired = 190

// FacebookPublisher posts to a Facebook Page feed, attaching the first media
// URL as a photo when the post has media.
type FacebookPublisher struct {
	baseURL string
	client  *http.Client
}

func NewFacebookPublisher() *FacebookPublisher {
	return &FacebookPublisher{
		baseURL: facebookGraphBase,
		client:  http.DefaultClient,
	}
}

func (p *FacebookPublisher) Publish(ctx context.Context, cred Credential, content Content) (string, error) {
	var endpoint string
	payload := map[string]interface{}{
		"access_token": cred.AccessToken,
	}

	if len(content.MediaURLs) > 0 {
		endpoint = fmt.Sprintf("%s/%s/photos", p.baseURL, cred.AccountRef)
		payload["url"] = content.MediaURLs[0]
		payload["caption"] = content.Caption
	} else {
		endpoint = fmt.Sprintf("%s/%s/feed", p.baseURL, cred.AccountRef)
		payload["message"] = content.Caption
	}

	id, err := postGraphJSON(ctx, p.client, endpoint, payload)
	if err != nil {
		return "", err
	}
	return id, nil
}

// postGraphJSON posts a JSON payload to a Graph API endpoint and returns the
// created object id, classifying any failure.
func postGraphJSON(ctx context.Context, client *http.Client, endpoint string, payload map[string]interface{}) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", permanentErr(0, "error marshalling payload: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewBuffer(body))
	if err != nil {
		return "", permanentErr(0, "error creating request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", transientErr(0, "HTTP request error: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", transientErr(resp.StatusCode, "error reading response body: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", classifyGraphError(resp.StatusCode, respBody)
	}

	var result struct {
		ID     string `json:"id"`
		PostID string `json:"post_id"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		slog.Info(err.Error())
		return "", permanentErr(resp.StatusCode, "error parsing response: %v", err)
	}

	if result.PostID != "" {
		return result.PostID, nil
	}
	if result.ID == "" {
		return "", permanentErr(resp.StatusCode, "no object id in response")
	}
	return result.ID, nil
}

func classifyGraphError(status int, body []byte) *Error {
	var graphErr graphErrorResponse
	if err := json.Unmarshal(body, &graphErr); err == nil && graphErr.Error.Message != "" {
		if graphErr.Error.Code == graphCodeTokenExpired {
			return authErr(status, "access token expired: %s", graphErr.Error.Message)
		}
		return classifyStatus(status, graphErr.Error.Message)
	}
	return classifyStatus(status, string(body))
}

package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
)

const businessProfileBase = "https://mybusiness.googleapis.com/v4"

// GoogleBusinessPublisher creates a local post on a Business Profile
// location. The credential's account reference is the full resource name
// (accounts/{account}/locations/{location}).
type GoogleBusinessPublisher struct {
	baseURL string
}

func NewGoogleBusinessPublisher() *GoogleBusinessPublisher {
	return &GoogleBusinessPublisher{baseURL: businessProfileBase}
}

type localPostMedia struct {
	MediaFormat string `json:"mediaFormat"`
	SourceURL   string `json:"sourceUrl"`
}

type localPost struct {
	LanguageCode string           `json:"languageCode"`
	Summary      string           `json:"summary"`
	TopicType    string           `json:"topicType"`
	Media        []localPostMedia `json:"media,omitempty"`
}

func (p *GoogleBusinessPublisher) Publish(ctx context.Context, cred Credential, content Content) (string, error) {
	token := &oauth2.Token{AccessToken: cred.AccessToken}
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(token))

	post := localPost{
		LanguageCode: "en",
		Summary:      content.Caption,
		TopicType:    "STANDARD",
	}
	for _, u := range content.MediaURLs {
		post.Media = append(post.Media, localPostMedia{MediaFormat: "PHOTO", SourceURL: u})
	}

	body, err := json.Marshal(post)
	if err != nil {
		return "", permanentErr(0, "error marshalling payload: %v", err)
	}

	endpoint := p.baseURL + "/" + cred.AccountRef + "/localPosts"
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

	if err := googleapi.CheckResponse(resp); err != nil {
		return "", classifyGoogleError(err)
	}

	var result struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		slog.Info(err.Error())
		return "", permanentErr(resp.StatusCode, "error parsing response: %v", err)
	}
	if result.Name == "" {
		return "", permanentErr(resp.StatusCode, "no local post name in response")
	}

	return result.Name, nil
}

func classifyGoogleError(err error) *Error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.Code, apiErr.Message)
	}
	return transientErr(0, "business profile call failed: %v", err)
}

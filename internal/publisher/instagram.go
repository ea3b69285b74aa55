package publisher

import (
	"context"
	"fmt"
	"net/http"
)

const instagramGraphBase = "https://graph.instagram.com/v21.0"

// InstagramPublisher creates a media container for the post's image and then
// publishes it, the two-step flow the Instagram Graph API requires.
type InstagramPublisher struct {
	baseURL string
	client  *http.Client
}

func NewInstagramPublisher() *InstagramPublisher {
	return &InstagramPublisher{
		baseURL: instagramGraphBase,
		client:  http.DefaultClient,
	}
}

func (p *InstagramPublisher) Publish(ctx context.Context, cred Credential, content Content) (string, error) {
	if len(content.MediaURLs) == 0 {
		return "", permanentErr(0, "instagram requires at least one media url")
	}

	containerID, err := p.createContainer(ctx, cred, content)
	if err != nil {
		return "", err
	}

	return p.publishContainer(ctx, cred, containerID)
}

func (p *InstagramPublisher) createContainer(ctx context.Context, cred Credential, content Content) (string, error) {
	endpoint := fmt.Sprintf("%s/%s/media", p.baseURL, cred.AccountRef)
	payload := map[string]interface{}{
		"image_url":    content.MediaURLs[0],
		"caption":      content.Caption,
		"access_token": cred.AccessToken,
	}

	return postGraphJSON(ctx, p.client, endpoint, payload)
}

func (p *InstagramPublisher) publishContainer(ctx context.Context, cred Credential, containerID string) (string, error) {
	endpoint := fmt.Sprintf("%s/%s/media_publish", p.baseURL, cred.AccountRef)
	payload := map[string]interface{}{
		"creation_id":  containerID,
		"access_token": cred.AccessToken,
	}

	return postGraphJSON(ctx, p.client, endpoint, payload)
}

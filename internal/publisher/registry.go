package publisher

import "github.com/postpilot/postpilot/internal/models"

// NewRegistry wires up every supported platform. The dispatcher and
// coordinator never reference a concrete publisher.
func NewRegistry() Registry {
	return Registry{
		models.PlatformFacebook:       NewFacebookPublisher(),
		models.PlatformInstagram:      NewInstagramPublisher(),
		models.PlatformGoogleBusiness: NewGoogleBusinessPublisher(),
		models.PlatformWebhook:        NewWebhookPublisher(),
	}
}

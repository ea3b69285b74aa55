package publisher

import (
	"context"
	"fmt"
)

// Content is the pre-composed payload handed to a publisher. Posts are
// immutable once scheduled; publishers only shape this into the platform's
// wire format.
type Content struct {
	Caption   string
	Title     string
	MediaURLs []string
}

// Credential is a tenant's decrypted platform credential together with the
// platform-side account reference the publisher posts against (page id,
// Business Profile location name, webhook URL).
type Credential struct {
	AccountRef  string
	AccessToken string
}

// Publisher executes a single publish attempt against one external API and
// returns the platform-native identifier of the created post. It knows
// nothing about scheduling, retries, or other platforms.
type Publisher interface {
	Publish(ctx context.Context, cred Credential, content Content) (string, error)
}

type ErrorKind int

const (
	KindTransient ErrorKind = iota
	KindPermanent
	KindAuth
)

// Error is a classified publish failure. Publishers never let raw HTTP
// errors escape; everything is wrapped with a kind the executor can act on.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return e.Message
}

func transientErr(status int, format string, args ...interface{}) *Error {
	return &Error{Kind: KindTransient, StatusCode: status, Message: fmt.Sprintf(format, args...)}
}

func permanentErr(status int, format string, args ...interface{}) *Error {
	return &Error{Kind: KindPermanent, StatusCode: status, Message: fmt.Sprintf(format, args...)}
}

func authErr(status int, format string, args ...interface{}) *Error {
	return &Error{Kind: KindAuth, StatusCode: status, Message: fmt.Sprintf(format, args...)}
}

// classifyStatus maps an HTTP response to an error kind: auth failures need
// user reconnection, rate limits and server errors are retryable, any other
// client error means the request itself was rejected.
func classifyStatus(status int, detail string) *Error {
	switch {
	case status == 401 || status == 403:
		return authErr(status, "authorization rejected: %s", detail)
	case status == 429 || status >= 500:
		return transientErr(status, "platform unavailable (%d): %s", status, detail)
	default:
		return permanentErr(status, "request rejected (%d): %s", status, detail)
	}
}

// Registry maps platform identifiers to their publisher. Adding a platform is
// one implementation plus one entry here.
type Registry map[string]Publisher

func (r Registry) Get(platform string) (Publisher, bool) {
	p, ok := r[platform]
	return p, ok
}

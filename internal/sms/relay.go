package sms

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Relay delivers one text message to a list of phone numbers.
type Relay interface {
	Post(ctx context.Context, numbers []string, sender, message string) error
}

// HTTPRelay posts to a form-encoded SMS relay with basic authentication.
type HTTPRelay struct {
	url    string
	user   string
	pass   string
	client *http.Client
}

func NewHTTPRelay(relayURL, user, pass string, timeout time.Duration) *HTTPRelay {
	return &HTTPRelay{
		url:    relayURL,
		user:   user,
		pass:   pass,
		client: &http.Client{Timeout: timeout},
	}
}

func (r *HTTPRelay) Post(ctx context.Context, numbers []string, sender, message string) error {
	form := url.Values{
		"numbers": {strings.Join(numbers, ",")},
		"sender":  {sender},
		"message": {message},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(r.user, r.pass)

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("sms relay post: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sms relay returned %d", resp.StatusCode)
	}
	return nil
}

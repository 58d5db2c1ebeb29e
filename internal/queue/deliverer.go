package queue

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

const defaultBackoff = 500 * time.Millisecond

// Deliverer posts signed messages back to the service.
type Deliverer struct {
	baseURL string
	client  *http.Client
	signer  *Signer
	backoff time.Duration
}

func NewDeliverer(baseURL string, client *http.Client, signer *Signer) *Deliverer {
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	return &Deliverer{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  client,
		signer:  signer,
		backoff: defaultBackoff,
	}
}

// CallbackBaseURL checks the origin messages are delivered to. Callbacks are
// signed over their request path, so the origin may not carry a path prefix.
func CallbackBaseURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parsing base url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("base url %q must be an absolute http(s) url", raw)
	}
	if strings.TrimSuffix(u.Path, "/") != "" || u.RawQuery != "" || u.Fragment != "" {
		return "", fmt.Errorf("base url %q must not carry a path, query or fragment", raw)
	}
	return strings.TrimSuffix(raw, "/"), nil
}

// WithBackoff sets the base of the exponential backoff between attempts.
func (d *Deliverer) WithBackoff(base time.Duration) *Deliverer {
	d.backoff = base
	return d
}

// Deliver makes one attempt. A 4xx answer other than 429 is a PermanentError;
// every other failure may be retried.
func (d *Deliverer) Deliver(ctx context.Context, msg Message) error {
	token, err := d.signer.Sign(msg.Path, msg.Body)
	if err != nil {
		return &PermanentError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+msg.Path, bytes.NewReader(msg.Body))
	if err != nil {
		return &PermanentError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, token)

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver to %s: %w", msg.Path, err)
	}
	defer resp.Body.Close()
	reply, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("delivery to %s returned %s: %s", msg.Path, resp.Status, reply)
	default:
		return &PermanentError{StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", reply)}
	}
}

// DeliverWithRetry makes up to policy.Retries+1 attempts.
func (d *Deliverer) DeliverWithRetry(ctx context.Context, msg Message, policy RetryPolicy) error {
	retries := policy.Retries
	if retries < 0 {
		retries = 0
	}
	backoff := retry.WithMaxRetries(uint64(retries), retry.WithJitterPercent(10, retry.NewExponential(d.backoff)))

	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := d.Deliver(ctx, msg)
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			return err
		}
		zap.S().Named("queue").Debugw("delivery failed", "path", msg.Path, "attempt", attempt, "error", err)
		return retry.RetryableError(err)
	})
}

package captcha

import (
	"context"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "captcha")

// notReadySentinel is the poll response meaning "keep waiting".
// The misspelling is part of the service's wire protocol.
const notReadySentinel = "CAPCHA_NOT_READY"

const (
	// DefaultPollInterval 轮询间隔
	DefaultPollInterval = 10 * time.Second
	// DefaultMaxAttempts 最多轮询次数（30 次 × 10 秒 ≈ 5 分钟）
	DefaultMaxAttempts = 30
)

// ErrTimeout is returned when the solving service never produced a token
// within the attempt bound.
var ErrTimeout = errors.New("captcha solving timeout")

// Client talks the submit-then-poll protocol of the external solving
// service. Submit returns a job id; Poll repeats on a fixed interval until
// the job is solved, fails, or the attempt bound is exceeded. The client
// never re-submits on its own — timeout/failure propagates to the caller.
type Client struct {
	http         *resty.Client
	apiKey       string
	pollInterval time.Duration
	maxAttempts  int
}

func NewClient(baseURL, apiKey string) *Client {
	if strings.HasSuffix(baseURL, "/") {
		baseURL = baseURL[:len(baseURL)-1]
	}

	// resty 会自动从环境变量读取代理配置（HTTP_PROXY, HTTPS_PROXY）
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second)

	return &Client{
		http:         client,
		apiKey:       apiKey,
		pollInterval: DefaultPollInterval,
		maxAttempts:  DefaultMaxAttempts,
	}
}

// SetPollPolicy overrides the poll interval and attempt bound.
func (c *Client) SetPollPolicy(interval time.Duration, maxAttempts int) {
	if interval > 0 {
		c.pollInterval = interval
	}
	if maxAttempts > 0 {
		c.maxAttempts = maxAttempts
	}
}

// Submit sends the challenge to the service and returns the job id.
// Any response not starting with "OK|" is a failure.
func (c *Client) Submit(ctx context.Context, siteKey, pageURL string) (string, error) {
	if strings.TrimSpace(c.apiKey) == "" {
		return "", errors.New("captcha: api key is not set")
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"key":       c.apiKey,
			"method":    "userrecaptcha",
			"googlekey": siteKey,
			"pageurl":   pageURL,
		}).
		Get("/in.php")
	if err != nil {
		return "", errors.Wrap(err, "captcha submit request")
	}

	body := strings.TrimSpace(resp.String())
	if !strings.HasPrefix(body, "OK|") {
		return "", errors.Errorf("captcha submit rejected: %s", body)
	}
	jobID := strings.SplitN(body, "|", 2)[1]
	log.Infof("CAPTCHA submitted, job id: %s", jobID)
	return jobID, nil
}

// Poll waits for the job to resolve. Each tick the service answers one of:
// not-ready (continue), "OK|<token>" (solved), or anything else (failure,
// reported with the raw message). Exceeding the attempt bound yields
// ErrTimeout.
func (c *Client) Poll(ctx context.Context, jobID string) (string, error) {
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.pollInterval):
		}

		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"key":    c.apiKey,
				"action": "get",
				"id":     jobID,
			}).
			Get("/res.php")
		if err != nil {
			return "", errors.Wrap(err, "captcha poll request")
		}

		body := strings.TrimSpace(resp.String())
		switch {
		case strings.HasPrefix(body, "OK|"):
			log.Info("CAPTCHA solved")
			return strings.SplitN(body, "|", 2)[1], nil
		case body == notReadySentinel:
			// keep polling
		default:
			return "", errors.Errorf("captcha solving error: %s", body)
		}
	}
	return "", ErrTimeout
}

// Solve runs Submit then Poll for one challenge.
func (c *Client) Solve(ctx context.Context, siteKey, pageURL string) (string, error) {
	jobID, err := c.Submit(ctx, siteKey, pageURL)
	if err != nil {
		return "", err
	}
	return c.Poll(ctx, jobID)
}

// internal/common/provisioning/client.go
package provisioning

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"

	"dynamic-site-maker/internal/common/errors"
	httpclient "dynamic-site-maker/internal/common/http"
	"dynamic-site-maker/internal/common/logger"
	"dynamic-site-maker/internal/common/metrics"
)

// Reason codes returned by the provisioning API.
const (
	ReasonInvalidCredentials   = "invalid_credentials"
	ReasonRequiredFieldMissing = "required_field_missing"
	ReasonUsernameTaken        = "username_taken"
	ReasonUnknown              = "unknown"
)

type Config struct {
	BaseURL    string
	APIKey     string
	APISecret  string
	Timeout    time.Duration
	MaxRetries int
}

// Request is one account creation call.
type Request struct {
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	IP        string `json:"ip,omitempty"`
}

type createResponse struct {
	Status   string `json:"status"`
	Username string `json:"username"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Result reports the username actually created and how many calls it took.
type Result struct {
	Username string `json:"username"`
	Attempts int    `json:"attempts"`
}

type Client struct {
	config Config
	http   *httpclient.Client
	logger logger.Logger
	suffix func() string
}

func NewClient(config Config, log logger.Logger) *Client {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	return &Client{
		config: config,
		http:   httpclient.NewClient(config.Timeout),
		logger: log,
		suffix: func() string { return strconv.Itoa(rand.IntN(9000) + 1000) },
	}
}

// SplitName splits a display name into first name and the remainder.
func SplitName(display string) (string, string) {
	parts := strings.Fields(display)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	default:
		return parts[0], strings.Join(parts[1:], " ")
	}
}

// Provision creates the account. A username_taken answer is retried with a
// random numeric suffix appended to the requested name, at most
// Config.MaxRetries times.
func (c *Client) Provision(ctx context.Context, req Request) (*Result, error) {
	base := req.Username
	attempts := 0

	for {
		attempts++
		username, err := c.CreateUser(ctx, req)
		if err == nil {
			metrics.ProvisioningAttempts.WithLabelValues("created").Inc()
			return &Result{Username: username, Attempts: attempts}, nil
		}

		stdErr := errors.Normalize(err)
		reason := stdErr.MetadataString("reason")
		if reason == "" {
			reason = "error"
		}
		metrics.ProvisioningAttempts.WithLabelValues(reason).Inc()

		if reason != ReasonUsernameTaken || attempts > c.config.MaxRetries {
			return nil, err
		}

		req.Username = base + c.suffix()
		c.logger.Info("username taken, retrying", map[string]interface{}{
			"requested": base,
			"candidate": req.Username,
			"attempt":   attempts,
		})
	}
}

// CreateUser performs one call and returns the created username.
func (c *Client) CreateUser(ctx context.Context, req Request) (string, error) {
	url := strings.TrimRight(c.config.BaseURL, "/") + "/users"
	headers := map[string]string{
		"X-Api-Key":    c.config.APIKey,
		"X-Api-Secret": c.config.APISecret,
	}

	var resp createResponse
	err := c.http.DoJSON(ctx, http.MethodPost, url, headers, req, &resp)
	if err != nil {
		var statusErr *httpclient.StatusError
		if stderrors.As(err, &statusErr) {
			return "", c.decodeError(statusErr)
		}
		if ctx.Err() != nil {
			return "", errors.NewTimeoutError("provisioning", err)
		}
		return "", errors.NewExternalServiceError("provisioning", err)
	}

	if resp.Username == "" {
		resp.Username = req.Username
	}
	return resp.Username, nil
}

func (c *Client) decodeError(statusErr *httpclient.StatusError) error {
	var body errorResponse
	_ = json.Unmarshal(statusErr.Body, &body)

	code, message := body.Code, body.Message
	if body.Error != nil {
		code, message = body.Error.Code, body.Error.Message
	}

	switch code {
	case ReasonInvalidCredentials, ReasonRequiredFieldMissing, ReasonUsernameTaken:
	default:
		if statusErr.StatusCode >= 500 {
			return errors.NewExternalServiceError("provisioning", statusErr)
		}
		code = ReasonUnknown
	}
	if message == "" {
		message = fmt.Sprintf("Account provisioning failed (%s).", code)
	}
	return errors.NewProvisioningError(code, message, statusErr)
}

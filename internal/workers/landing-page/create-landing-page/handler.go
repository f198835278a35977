package createlandingpage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"dynamic-site-maker/internal/common/camunda"
	"dynamic-site-maker/internal/common/errors"
	"dynamic-site-maker/internal/common/logger"
	"dynamic-site-maker/internal/common/metrics"
	"dynamic-site-maker/internal/common/throttle"
	"dynamic-site-maker/internal/common/validation"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const TaskType = "create-landing-page"

type Config struct {
	Enabled       bool
	MaxJobsActive int
	Timeout       time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		Enabled:       true,
		MaxJobsActive: 5,
		Timeout:       60 * time.Second,
	}
}

func (c *Config) Validate() error {
	if c.MaxJobsActive < 1 {
		return fmt.Errorf("max jobs active must be at least 1")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	return nil
}

// Input carries a submission whose logo, if any, is already a media asset.
type Input struct {
	Name          string `json:"name"`
	Email         string `json:"email"`
	AffiliateLink string `json:"affiliateLink"`
	Username      string `json:"username,omitempty"`
	LogoID        int64  `json:"logoId,omitempty"`
	ClientIP      string `json:"clientIp,omitempty"`
	Submitted     bool   `json:"alreadySubmitted,omitempty"`
}

type Output struct {
	Result
}

type Handler struct {
	config     *Config
	service    *Service
	logger     logger.Logger
	errHandler *errors.ErrorHandler
}

func NewHandler(config *Config, service *Service, log logger.Logger) (*Handler, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration for %s: %w", TaskType, err)
	}
	if service == nil {
		return nil, fmt.Errorf("%s requires a service", TaskType)
	}
	scoped := log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:     config,
		service:    service,
		logger:     scoped,
		errHandler: errors.NewErrorHandler(scoped),
	}, nil
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	start := time.Now()
	metrics.WorkerJobsActive.WithLabelValues(TaskType).Inc()
	defer metrics.WorkerJobsActive.WithLabelValues(TaskType).Dec()

	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":             job.Key,
		"processInstanceKey": job.ProcessInstanceKey,
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	input, err := h.parseInput(job)
	if err != nil {
		h.fail(ctx, client, job, err)
		return
	}

	output, err := h.Execute(ctx, input)
	if err != nil {
		h.fail(ctx, client, job, err)
		return
	}

	if err := camunda.CompleteJob(ctx, client, job, output); err != nil {
		h.logger.Error("failed to complete job", map[string]interface{}{"jobKey": job.Key, "error": err})
		return
	}

	h.logger.Info("landing page created", map[string]interface{}{
		"pageId":   output.PageID,
		"duration": time.Since(start).String(),
	})
	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
	metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(start).Seconds())
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	result, err := h.service.Create(ctx, Request{
		Name:          input.Name,
		Email:         input.Email,
		AffiliateLink: input.AffiliateLink,
		Username:      input.Username,
		LogoID:        input.LogoID,
		Visitor:       throttle.Visitor{IP: input.ClientIP, Submitted: input.Submitted},
		Source:        "worker",
	})
	if err != nil {
		return nil, err
	}
	return &Output{Result: *result}, nil
}

func (h *Handler) parseInput(job entities.Job) (*Input, error) {
	variables, err := job.GetVariablesAsMap()
	if err != nil {
		return nil, errors.NewParseError(err)
	}

	result := validation.ValidateInput(variables, GetInputSchema())
	if !result.Valid {
		return nil, errors.NewValidationError("variables",
			fmt.Sprintf("Input validation failed: %v", result.GetErrorMessages()))
	}

	var input Input
	if err := json.Unmarshal([]byte(job.Variables), &input); err != nil {
		return nil, errors.NewParseError(err)
	}
	return &input, nil
}

func (h *Handler) fail(ctx context.Context, client worker.JobClient, job entities.Job, err error) {
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(errors.Normalize(err).Code)).Inc()
	h.errHandler.HandleJobError(ctx, client, job, err)
}

func GetInputSchema() validation.JSONSchema {
	return validation.JSONSchema{
		Type:     "object",
		Required: []string{"name", "email", "affiliateLink"},
		Properties: map[string]validation.Property{
			"name":             {Type: "string", MinLength: intPtr(1), MaxLength: intPtr(200)},
			"email":            {Type: "string", MinLength: intPtr(3)},
			"affiliateLink":    {Type: "string", MinLength: intPtr(1)},
			"username":         {Type: "string", MaxLength: intPtr(60)},
			"logoId":           {Type: "integer"},
			"clientIp":         {Type: "string"},
			"alreadySubmitted": {Type: "boolean"},
		},
		AdditionalProperties: true,
	}
}

func intPtr(i int) *int { return &i }

package resolvesubmission

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"dynamic-site-maker/internal/common/camunda"
	"dynamic-site-maker/internal/common/errors"
	"dynamic-site-maker/internal/common/logger"
	"dynamic-site-maker/internal/common/metrics"
	"dynamic-site-maker/internal/common/validation"
	"dynamic-site-maker/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const TaskType = "resolve-submission"

type Config struct {
	Enabled       bool
	MaxJobsActive int
	Timeout       time.Duration
}

func DefaultConfig() *Config {
	return &Config{Enabled: true, MaxJobsActive: 5, Timeout: 10 * time.Second}
}

func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	return nil
}

type Input struct {
	Name          string `json:"name"`
	AffiliateLink string `json:"affiliateLink"`
	Username      string `json:"username,omitempty"`
	LogoID        int64  `json:"logoId,omitempty"`
}

type Output struct {
	Submission    models.SubmissionRecord `json:"submission"`
	HasCustomLogo bool                    `json:"hasCustomLogo"`
	AffiliateLink string                  `json:"affiliateLink"`
}

type HandlerOptions struct {
	Config   *Config
	Resolver *Resolver
	Logger   logger.Logger
}

type Handler struct {
	config     *Config
	resolver   *Resolver
	logger     logger.Logger
	errHandler *errors.ErrorHandler
}

func NewHandler(opts HandlerOptions) (*Handler, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration for %s: %w", TaskType, err)
	}
	if opts.Resolver == nil {
		return nil, fmt.Errorf("%s requires a resolver", TaskType)
	}

	log := opts.Logger
	if log == nil {
		log = logger.NewStructured("info", "json")
	}
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})

	return &Handler{
		config:     cfg,
		resolver:   opts.Resolver,
		logger:     log,
		errHandler: errors.NewErrorHandler(log),
	}, nil
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	start := time.Now()
	metrics.WorkerJobsActive.WithLabelValues(TaskType).Inc()
	defer metrics.WorkerJobsActive.WithLabelValues(TaskType).Dec()

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	var input Input
	if err := json.Unmarshal([]byte(job.Variables), &input); err != nil {
		h.fail(ctx, client, job, errors.NewParseError(err))
		return
	}

	output, err := h.Execute(ctx, &input)
	if err != nil {
		h.fail(ctx, client, job, err)
		return
	}

	if err := camunda.CompleteJob(ctx, client, job, output); err != nil {
		h.logger.Error("failed to complete job", map[string]interface{}{"jobKey": job.Key, "error": err})
		return
	}
	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
	metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(start).Seconds())
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	if input.Name == "" {
		return nil, errors.NewValidationError("name", "Name is required.")
	}
	if !validation.ValidateHTTPURL(input.AffiliateLink) {
		return nil, errors.NewValidationError("affiliateLink", "Please enter a valid affiliate link.")
	}

	link := CompleteAffiliateLink(input.AffiliateLink, input.Username)

	record, err := h.resolver.BuildSubmissionRecord(ctx, input.Name, link, input.LogoID)
	if err != nil {
		return nil, err
	}

	h.logger.Debug("submission resolved", map[string]interface{}{
		"price":         record.DerivedPrice,
		"hasCustomLogo": record.HasCustomLogo(),
	})

	return &Output{
		Submission:    record,
		HasCustomLogo: record.HasCustomLogo(),
		AffiliateLink: link,
	}, nil
}

func (h *Handler) fail(ctx context.Context, client worker.JobClient, job entities.Job, err error) {
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(errors.Normalize(err).Code)).Inc()
	h.errHandler.HandleJobError(ctx, client, job, err)
}

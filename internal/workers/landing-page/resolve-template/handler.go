package resolvetemplate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"dynamic-site-maker/internal/common/camunda"
	"dynamic-site-maker/internal/common/errors"
	"dynamic-site-maker/internal/common/logger"
	"dynamic-site-maker/internal/common/metrics"
	"dynamic-site-maker/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const TaskType = "resolve-template"

type Config struct {
	Enabled       bool
	MaxJobsActive int
	Timeout       time.Duration
	// DefaultTemplateID is used when the job carries no templateId.
	DefaultTemplateID int
}

func DefaultConfig() *Config {
	return &Config{
		Enabled:       true,
		MaxJobsActive: 5,
		Timeout:       10 * time.Second,
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

type Input struct {
	TemplateID *int `json:"templateId,omitempty"`
}

type Output struct {
	TemplateData string `json:"templateData"`
	TemplateID   int64  `json:"templateId"`
	Fallback     bool   `json:"fallback"`
	Reason       string `json:"fallbackReason,omitempty"`
	NodeCount    int    `json:"nodeCount"`
}

type Handler struct {
	config     *Config
	resolver   *Resolver
	logger     logger.Logger
	errHandler *errors.ErrorHandler
}

func NewHandler(config *Config, resolver *Resolver, log logger.Logger) *Handler {
	if config == nil {
		config = DefaultConfig()
	}
	scoped := log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:     config,
		resolver:   resolver,
		logger:     scoped,
		errHandler: errors.NewErrorHandler(scoped),
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	start := time.Now()
	metrics.WorkerJobsActive.WithLabelValues(TaskType).Inc()
	defer metrics.WorkerJobsActive.WithLabelValues(TaskType).Dec()

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	var input Input
	if job.Variables != "" {
		if err := json.Unmarshal([]byte(job.Variables), &input); err != nil {
			h.fail(ctx, client, job, errors.NewParseError(err))
			return
		}
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
	templateID := input.TemplateID
	if templateID == nil && h.config.DefaultTemplateID > 0 {
		id := h.config.DefaultTemplateID
		templateID = &id
	}

	src, err := h.resolver.ResolveSourceTree(ctx, templateID)
	if err != nil {
		return nil, errors.NewTimeoutError("resolve template", err)
	}

	data, err := models.EncodeForest(src.Tree)
	if err != nil {
		return nil, errors.NewInternalError(err)
	}

	if src.Fallback {
		h.logger.Info("using fallback template", map[string]interface{}{"reason": src.Reason})
	}

	return &Output{
		TemplateData: string(data),
		TemplateID:   src.TemplateID,
		Fallback:     src.Fallback,
		Reason:       src.Reason,
		NodeCount:    models.CountNodes(src.Tree),
	}, nil
}

func (h *Handler) fail(ctx context.Context, client worker.JobClient, job entities.Job, err error) {
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(errors.Normalize(err).Code)).Inc()
	h.errHandler.HandleJobError(ctx, client, job, err)
}

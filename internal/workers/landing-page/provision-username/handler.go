package provisionusername

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"dynamic-site-maker/internal/common/camunda"
	"dynamic-site-maker/internal/common/errors"
	"dynamic-site-maker/internal/common/logger"
	"dynamic-site-maker/internal/common/metrics"
	"dynamic-site-maker/internal/common/provisioning"
	"dynamic-site-maker/internal/common/validation"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const TaskType = "provision-username"

type Provisioner interface {
	Provision(ctx context.Context, req provisioning.Request) (*provisioning.Result, error)
}

type Handler struct {
	config      *Config
	provisioner Provisioner
	logger      logger.Logger
	errHandler  *errors.ErrorHandler
}

func NewHandler(config *Config, provisioner Provisioner, log logger.Logger) *Handler {
	if config == nil {
		config = DefaultConfig()
	}
	scoped := log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:      config,
		provisioner: provisioner,
		logger:      scoped,
		errHandler:  errors.NewErrorHandler(scoped),
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	start := time.Now()
	metrics.WorkerJobsActive.WithLabelValues(TaskType).Inc()
	defer metrics.WorkerJobsActive.WithLabelValues(TaskType).Dec()

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

	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
	metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(start).Seconds())
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	username := validation.SanitizeText(input.Username)
	if !validation.ValidateUsername(username) {
		return nil, errors.NewValidationError("username", "Username may contain letters, numbers, dots, dashes and underscores.")
	}
	email := strings.TrimSpace(input.Email)
	if !validation.ValidateEmail(email) {
		return nil, errors.NewValidationError("email", "Please enter a valid email address.")
	}

	first, last := provisioning.SplitName(validation.SanitizeText(input.Name))
	res, err := h.provisioner.Provision(ctx, provisioning.Request{
		Username:  username,
		FirstName: first,
		LastName:  last,
		Email:     email,
		IP:        input.ClientIP,
	})
	if err != nil {
		return nil, err
	}

	if res.Username != username {
		h.logger.Info("provisioned under a different username", map[string]interface{}{
			"requested": username,
			"created":   res.Username,
			"attempts":  res.Attempts,
		})
	}
	return &Output{Username: res.Username, Attempts: res.Attempts, Requested: username}, nil
}

func (h *Handler) parseInput(job entities.Job) (*Input, error) {
	variables, err := job.GetVariablesAsMap()
	if err != nil {
		return nil, errors.NewParseError(err)
	}
	if result := validation.ValidateInput(variables, GetInputSchema()); !result.Valid {
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
		Required: []string{"username", "name", "email"},
		Properties: map[string]validation.Property{
			"username": {Type: "string"},
			"name":     {Type: "string"},
			"email":    {Type: "string"},
			"clientIp": {Type: "string"},
		},
		AdditionalProperties: true,
	}
}

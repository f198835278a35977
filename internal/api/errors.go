package api

import (
	"net/http"

	"dynamic-site-maker/internal/common/errors"
	"dynamic-site-maker/internal/common/provisioning"

	"github.com/gin-gonic/gin"
)

// statusFor maps an error code to the HTTP status the intake answers with.
func statusFor(err *errors.StandardError) int {
	switch err.Code {
	case errors.ErrCodeValidationFailed, errors.ErrCodeUploadFailed,
		errors.ErrCodeMalformedTemplate, errors.ErrCodeParseError, errors.ErrCodeNoChanges:
		return http.StatusBadRequest
	case errors.ErrCodeSubmissionThrottled:
		return http.StatusTooManyRequests
	case errors.ErrCodePageNotFound, errors.ErrCodeTemplateNotFound:
		return http.StatusNotFound
	case errors.ErrCodeProvisioningFailed:
		switch err.MetadataString("reason") {
		case provisioning.ReasonInvalidCredentials, provisioning.ReasonRequiredFieldMissing:
			return http.StatusBadRequest
		case provisioning.ReasonUsernameTaken:
			return http.StatusConflict
		}
		return http.StatusBadGateway
	case errors.ErrCodeExternalService:
		return http.StatusBadGateway
	case errors.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (s *Server) respondError(c *gin.Context, err error) {
	stdErr := errors.Normalize(err)
	status := statusFor(stdErr)

	message := stdErr.Message
	if stdErr.Code == errors.ErrCodeInternal {
		message = "An unexpected error occurred. Please try again."
	}
	if status >= 500 {
		s.logger.Error("request error", map[string]interface{}{
			"code":      stdErr.Code,
			"details":   stdErr.Details,
			"requestId": c.GetString("requestId"),
		})
	}

	body := gin.H{"code": string(stdErr.Code), "message": message}
	if field := stdErr.MetadataString("field"); field != "" {
		body["field"] = field
	}
	if reason := stdErr.MetadataString("reason"); reason != "" {
		body["reason"] = reason
	}
	c.JSON(status, gin.H{"success": false, "error": body})
}

func (s *Server) unavailable(c *gin.Context, what string) {
	c.JSON(http.StatusServiceUnavailable, gin.H{
		"success": false,
		"error":   gin.H{"code": "UNAVAILABLE", "message": what + " is not enabled."},
	})
}

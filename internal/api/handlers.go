package api

import (
	"context"
	stderrors "errors"
	"mime/multipart"
	"net/http"
	"strconv"

	"dynamic-site-maker/internal/common/errors"
	"dynamic-site-maker/internal/common/throttle"
	createlandingpage "dynamic-site-maker/internal/workers/landing-page/create-landing-page"
	provisionusername "dynamic-site-maker/internal/workers/landing-page/provision-username"
	updatelandingpage "dynamic-site-maker/internal/workers/landing-page/update-landing-page"

	"github.com/gin-gonic/gin"
)

type submissionForm struct {
	Name          string `form:"name" json:"name"`
	Email         string `form:"email" json:"email"`
	AffiliateLink string `form:"affiliate_link" json:"affiliateLink"`
	Username      string `form:"username" json:"username"`
}

type usernameRequest struct {
	Username string `json:"username" binding:"required"`
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required"`
}

func (s *Server) createLandingPage(c *gin.Context) {
	if s.services.Creator == nil {
		s.unavailable(c, "Landing page creation")
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.config.MaxUploadBytes+1<<20)

	var form submissionForm
	if err := c.ShouldBind(&form); err != nil {
		s.respondError(c, bindError(err))
		return
	}

	logo, closeLogo, err := s.logoFromForm(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	defer closeLogo()

	req := createlandingpage.Request{
		Name:          form.Name,
		Email:         form.Email,
		AffiliateLink: form.AffiliateLink,
		Username:      form.Username,
		Logo:          logo,
		Visitor:       s.visitor(c),
		Source:        "api",
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.config.RequestTimeout)
	defer cancel()

	result, err := s.services.Creator.Create(ctx, req)
	if err != nil {
		s.respondError(c, err)
		return
	}

	if s.services.Gate != nil {
		s.services.Gate.SetCookie(c.Writer, c.Request)
	}
	c.JSON(http.StatusCreated, gin.H{
		"success":  true,
		"message":  "Your landing page has been created.",
		"redirect": result.URL,
		"isUpdate": false,
		"data":     result,
	})
}

func (s *Server) updateLandingPage(c *gin.Context) {
	if s.services.Updater == nil {
		s.unavailable(c, "Landing page editing")
		return
	}
	pageID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || pageID <= 0 {
		s.respondError(c, errors.NewValidationError("pageId", "Invalid page ID."))
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.config.MaxUploadBytes+1<<20)

	var form submissionForm
	if err := c.ShouldBind(&form); err != nil {
		s.respondError(c, bindError(err))
		return
	}

	logo, closeLogo, err := s.logoFromForm(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	defer closeLogo()

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.config.RequestTimeout)
	defer cancel()

	result, err := s.services.Updater.Update(ctx, updatelandingpage.Request{
		PageID:        pageID,
		Name:          form.Name,
		Email:         form.Email,
		AffiliateLink: form.AffiliateLink,
		Logo:          logo,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Content updated successfully.",
		"data":    result,
	})
}

func (s *Server) findLandingPage(c *gin.Context) {
	if s.services.Finder == nil {
		s.unavailable(c, "Landing page lookup")
		return
	}
	match, err := s.services.Finder.FindByEmail(c.Request.Context(), c.Query("email"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	if !match.Found {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "data": match})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": match})
}

func (s *Server) provisionUsername(c *gin.Context) {
	if s.services.Provisioner == nil {
		s.unavailable(c, "Username provisioning")
		return
	}
	var body usernameRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		s.respondError(c, bindError(err))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.config.RequestTimeout)
	defer cancel()

	out, err := s.services.Provisioner.Execute(ctx, &provisionusername.Input{
		Username: body.Username,
		Name:     body.Name,
		Email:    body.Email,
		ClientIP: throttle.ClientIP(c.Request),
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": out})
}

// resetSubmissionStatus lets the caller submit again. Clearing the IP entry
// is best effort; the cookie is always cleared.
func (s *Server) resetSubmissionStatus(c *gin.Context) {
	if s.services.Gate == nil {
		s.unavailable(c, "Submission throttling")
		return
	}
	s.services.Gate.ClearCookie(c.Writer, c.Request)

	ipCleared := true
	if err := s.services.Gate.Reset(c.Request.Context(), s.visitor(c)); err != nil {
		s.logger.Warn("failed to reset submission ip", map[string]interface{}{"error": err})
		ipCleared = false
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"message":   "Submission status reset.",
		"ipCleared": ipCleared,
	})
}

func (s *Server) visitor(c *gin.Context) throttle.Visitor {
	if s.services.Gate != nil {
		return s.services.Gate.VisitorFromRequest(c.Request)
	}
	return throttle.Visitor{IP: throttle.ClientIP(c.Request)}
}

// logoFromForm opens the optional "logo" file part. The returned func closes it.
func (s *Server) logoFromForm(c *gin.Context) (*createlandingpage.LogoFile, func(), error) {
	noop := func() {}
	fh, err := c.FormFile("logo")
	if stderrors.Is(err, http.ErrMissingFile) || stderrors.Is(err, http.ErrNotMultipart) {
		return nil, noop, nil
	}
	if err != nil {
		return nil, noop, errors.NewUploadError("Could not read the uploaded logo.", err)
	}
	if fh.Size > s.config.MaxUploadBytes {
		return nil, noop, errors.NewUploadError("The logo is too large.", nil)
	}

	var f multipart.File
	if f, err = fh.Open(); err != nil {
		return nil, noop, errors.NewUploadError("Could not read the uploaded logo.", err)
	}
	return &createlandingpage.LogoFile{Reader: f, Filename: fh.Filename, Size: fh.Size}, func() { f.Close() }, nil
}

func bindError(err error) error {
	var tooLarge *http.MaxBytesError
	if stderrors.As(err, &tooLarge) {
		return errors.NewUploadError("The upload is too large.", err)
	}
	return errors.NewValidationError("form", "Invalid form submission.")
}

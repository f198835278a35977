// internal/common/media/uploader.go
package media

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"dynamic-site-maker/internal/common/errors"
	"dynamic-site-maker/internal/common/logger"
	"dynamic-site-maker/internal/models"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
)

var (
	ErrUnsupportedType = stderrors.New("UNSUPPORTED_FILE_TYPE")
	ErrTooLarge        = stderrors.New("FILE_TOO_LARGE")
	ErrUndecodable     = stderrors.New("UNDECODABLE_IMAGE")
	ErrActiveContent   = stderrors.New("ACTIVE_CONTENT")
)

// activeSVG matches scripts, event handler attributes, javascript: URLs and
// embedded foreign documents.
var activeSVG = regexp.MustCompile(`(?i)<\s*script|<\s*foreignobject|\bon[a-z]+\s*=|javascript\s*:`)

var mimeTypes = map[string]string{
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"svg":  "image/svg+xml",
}

// Registrar records stored files as media assets.
type Registrar interface {
	CreateMedia(ctx context.Context, asset models.MediaAsset) (int64, error)
	DeleteMedia(ctx context.Context, mediaID int64) error
}

type Config struct {
	Dir               string
	BaseURL           string
	MaxBytes          int64
	AllowedExtensions []string
}

// Upload is a file accepted and written to the upload directory.
type Upload struct {
	Path     string
	URL      string
	MimeType string
	Width    int
	Height   int
}

type Uploader struct {
	config    Config
	registrar Registrar
	logger    logger.Logger
}

func NewUploader(config Config, registrar Registrar, log logger.Logger) *Uploader {
	if config.MaxBytes <= 0 {
		config.MaxBytes = 5 << 20
	}
	if len(config.AllowedExtensions) == 0 {
		config.AllowedExtensions = []string{"jpg", "jpeg", "png", "svg"}
	}
	return &Uploader{config: config, registrar: registrar, logger: log}
}

// ReceiveMultipart accepts a file from a multipart form.
func (u *Uploader) ReceiveMultipart(ctx context.Context, fh *multipart.FileHeader) (*Upload, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, errors.NewUploadError("Could not read the uploaded file.", err)
	}
	defer f.Close()
	return u.ReceiveUpload(ctx, f, fh.Filename, fh.Size)
}

// ReceiveUpload checks the extension and size of an incoming file, verifies
// raster images decode, and stores the file under a random name.
func (u *Uploader) ReceiveUpload(ctx context.Context, r io.Reader, filename string, size int64) (*Upload, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if !u.allowed(ext) {
		return nil, errors.NewUploadError(
			fmt.Sprintf("Invalid file type. Allowed types: %s.", strings.Join(u.config.AllowedExtensions, ", ")),
			fmt.Errorf("%w: %q", ErrUnsupportedType, ext))
	}
	if size > u.config.MaxBytes {
		return nil, u.tooLarge(size)
	}

	data, err := io.ReadAll(io.LimitReader(r, u.config.MaxBytes+1))
	if err != nil {
		return nil, errors.NewUploadError("Could not read the uploaded file.", err)
	}
	if int64(len(data)) > u.config.MaxBytes {
		return nil, u.tooLarge(int64(len(data)))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	upload := &Upload{MimeType: mimeTypes[ext]}
	if ext == "svg" {
		if !bytes.Contains(data, []byte("<svg")) {
			return nil, errors.NewUploadError("The uploaded file is not a valid image.", ErrUndecodable)
		}
		if activeSVG.Match(data) {
			return nil, errors.NewUploadError("SVG logos may not contain scripts.", ErrActiveContent)
		}
	} else {
		img, err := imaging.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, errors.NewUploadError("The uploaded file is not a valid image.",
				fmt.Errorf("%w: %v", ErrUndecodable, err))
		}
		upload.Width = img.Bounds().Dx()
		upload.Height = img.Bounds().Dy()
	}

	if err := os.MkdirAll(u.config.Dir, 0o755); err != nil {
		return nil, errors.NewUploadError("Could not store the uploaded file.", err)
	}
	name := uuid.New().String() + "." + ext
	upload.Path = filepath.Join(u.config.Dir, name)
	if err := os.WriteFile(upload.Path, data, 0o644); err != nil {
		return nil, errors.NewUploadError("Could not store the uploaded file.", err)
	}
	upload.URL = strings.TrimRight(u.config.BaseURL, "/") + "/" + name

	u.logger.Debug("upload stored", map[string]interface{}{"path": upload.Path, "bytes": len(data)})
	return upload, nil
}

// RegisterAsMediaAsset records a stored upload and returns its media id.
func (u *Uploader) RegisterAsMediaAsset(ctx context.Context, upload *Upload) (int64, error) {
	id, err := u.registrar.CreateMedia(ctx, models.MediaAsset{
		Path:     upload.Path,
		URL:      upload.URL,
		MimeType: upload.MimeType,
		Width:    upload.Width,
		Height:   upload.Height,
	})
	if err != nil {
		return 0, errors.NewPersistenceError("register media asset", err)
	}
	return id, nil
}

// Discard removes a stored upload that will not be used.
func (u *Uploader) Discard(upload *Upload) {
	if upload == nil || upload.Path == "" {
		return
	}
	if err := os.Remove(upload.Path); err != nil && !os.IsNotExist(err) {
		u.logger.Warn("failed to remove discarded upload", map[string]interface{}{"path": upload.Path, "error": err})
	}
}

// Remove deletes a registered asset and its file. The file is removed even
// when the media row cannot be deleted.
func (u *Uploader) Remove(ctx context.Context, upload *Upload, mediaID int64) error {
	defer u.Discard(upload)
	if mediaID <= 0 {
		return nil
	}
	if err := u.registrar.DeleteMedia(ctx, mediaID); err != nil {
		return errors.NewPersistenceError("delete media asset", err)
	}
	return nil
}

func (u *Uploader) allowed(ext string) bool {
	for _, a := range u.config.AllowedExtensions {
		if strings.EqualFold(a, ext) {
			return true
		}
	}
	return false
}

func (u *Uploader) tooLarge(size int64) error {
	return errors.NewUploadError(
		fmt.Sprintf("File is too large. Maximum size is %d MB.", u.config.MaxBytes>>20),
		fmt.Errorf("%w: %d bytes", ErrTooLarge, size))
}

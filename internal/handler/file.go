package handler

import (
	"DriveVault/internal/dto"
	"DriveVault/internal/service"
	"DriveVault/model"
	"DriveVault/utils"
	"errors"
	"log"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"
)

// uploadFields are the multipart field names accepted for the file part.
var uploadFields = []string{"File", "file"}

// FileHandler exposes the broker over HTTP.
type FileHandler struct {
	broker         *service.Broker
	maxUploadBytes int64
}

// NewFileHandler builds handlers around a broker. maxUploadBytes <= 0
// disables the body limit.
func NewFileHandler(broker *service.Broker, maxUploadBytes int64) *FileHandler {
	return &FileHandler{broker: broker, maxUploadBytes: maxUploadBytes}
}

func principal(c *gin.Context) (*model.Principal, bool) {
	p, ok := utils.CurrentPrincipal(c)
	if !ok {
		utils.Unauthorized(c)
	}
	return p, ok
}

// writeError maps broker errors to HTTP statuses. A record owned by someone
// else is reported exactly like a missing one.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		utils.Fail(c, http.StatusNotFound, "file not found")
	case errors.Is(err, service.ErrInvalidArgument):
		utils.Fail(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrConflict):
		log.Printf("[handler] %s %s: %v", c.Request.Method, c.FullPath(), err)
		utils.Fail(c, http.StatusConflict, "storage key conflict")
	default:
		log.Printf("[handler] %s %s: %v", c.Request.Method, c.FullPath(), err)
		utils.Fail(c, http.StatusInternalServerError, "storage service unavailable")
	}
}

func formFile(c *gin.Context) (*multipart.FileHeader, error) {
	var err error
	for _, field := range uploadFields {
		var fh *multipart.FileHeader
		fh, err = c.FormFile(field)
		if err == nil {
			return fh, nil
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, err
		}
	}
	return nil, err
}

// UploadFile stores one multipart file for the caller.
func (h *FileHandler) UploadFile(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	}
	fh, err := formFile(c)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			utils.Fail(c, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		utils.Fail(c, http.StatusBadRequest, "no file uploaded")
		return
	}
	f, err := fh.Open()
	if err != nil {
		utils.Fail(c, http.StatusBadRequest, "read upload failed")
		return
	}
	defer f.Close()

	contentType := fh.Header.Get("Content-Type")
	if contentType == "application/octet-stream" {
		// browsers send this for anything unknown; the extension knows better
		contentType = ""
	}
	record, err := h.broker.Store(c.Request.Context(), p, service.Upload{
		Name:        fh.Filename,
		ContentType: contentType,
		Size:        fh.Size,
		Body:        f,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewFileResponse(*record, ""))
}

// ListFiles returns the caller's files, each with a fresh download link.
func (h *FileHandler) ListFiles(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	files, err := h.broker.ListWithLinks(c.Request.Context(), p)
	if err != nil {
		writeError(c, err)
		return
	}
	resp := make([]dto.FileResponse, 0, len(files))
	for _, file := range files {
		resp = append(resp, dto.NewFileResponse(file.Record, file.URL))
	}
	c.JSON(http.StatusOK, resp)
}

// SearchFiles filters the caller's files by name.
func (h *FileHandler) SearchFiles(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req dto.SearchFileRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		utils.Fail(c, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	records, err := h.broker.Search(c.Request.Context(), p, req.Query)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewFileResponses(records))
}

// RenameFile changes a file's display name.
func (h *FileHandler) RenameFile(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req dto.RenameFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Fail(c, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	record, err := h.broker.Rename(c.Request.Context(), p, c.Param("id"), req.NewName)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewFileResponse(*record, ""))
}

// DeleteFile removes a file and its bytes.
func (h *FileHandler) DeleteFile(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	if err := h.broker.Delete(c.Request.Context(), p, c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "file deleted"})
}

// ShareFile returns a signed, short-lived link.
func (h *FileHandler) ShareFile(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	link, err := h.broker.GenerateAccessLink(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.ShareResponse{URL: link.URL, ExpiresAt: link.ExpiresAt})
}

// DownloadFile redirects to a signed link instead of proxying bytes.
func (h *FileHandler) DownloadFile(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	link, err := h.broker.GenerateAccessLink(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.Redirect(http.StatusFound, link.URL)
}

// CurrentUser returns the resolved principal.
func CurrentUser(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, p)
}

// Health reports liveness.
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

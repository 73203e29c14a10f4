package dto

import (
	"DriveVault/model"
	"strings"
	"time"
)

// FileResponse is the client view of a file record. _id mirrors id for
// clients written against the document-store shape.
type FileResponse struct {
	MongoID     string    `json:"_id"`
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	UploadedAt  time.Time `json:"uploadedAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	DownloadURL string    `json:"downloadUrl,omitempty"`
	IsFolder    bool      `json:"isFolder"`
}

// ShareResponse carries a signed link.
type ShareResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// IsFolder is a display heuristic only: names without an extension are
// shown as folders. Nothing is stored.
func IsFolder(name string) bool {
	return !strings.Contains(name, ".")
}

// NewFileResponse builds the client view of a record.
func NewFileResponse(record model.FileRecord, downloadURL string) FileResponse {
	return FileResponse{
		MongoID:     record.ID,
		ID:          record.ID,
		Name:        record.Name,
		ContentType: record.ContentType,
		Size:        record.Size,
		UploadedAt:  record.CreatedAt,
		UpdatedAt:   record.UpdatedAt,
		DownloadURL: downloadURL,
		IsFolder:    IsFolder(record.Name),
	}
}

// NewFileResponses maps records without links.
func NewFileResponses(records []model.FileRecord) []FileResponse {
	out := make([]FileResponse, 0, len(records))
	for _, record := range records {
		out = append(out, NewFileResponse(record, ""))
	}
	return out
}

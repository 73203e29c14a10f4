package dto

// RenameFileRequest is the body of PUT /api/files/rename/:id.
type RenameFileRequest struct {
	NewName string `json:"newName"`
}

// SearchFileRequest binds GET /api/files/search.
type SearchFileRequest struct {
	Query string `form:"query"`
}

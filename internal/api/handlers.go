package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wardenfs/warden/internal/validation"
	"github.com/wardenfs/warden/pkg/engine"
	"github.com/wardenfs/warden/pkg/storage"
)

// itemResponse is the wire representation of a storage item. StoragePath
// is an internal object-store reference and is never exposed.
type itemResponse struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organizationId"`
	ParentID       *string   `json:"parentId,omitempty"`
	Type           string    `json:"type"`
	Name           string    `json:"name"`
	OwnerID        string    `json:"ownerId"`
	Visibility     string    `json:"visibility"`
	UserIDs        []string  `json:"userIds,omitempty"`
	MimeType       string    `json:"mimeType,omitempty"`
	Size           int64     `json:"size,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func toItemResponse(item *storage.Item) itemResponse {
	return itemResponse{
		ID:             item.ID,
		OrganizationID: item.OrganizationID,
		ParentID:       item.ParentID,
		Type:           item.Type.String(),
		Name:           item.Name,
		OwnerID:        item.OwnerID,
		Visibility:     item.Visibility.String(),
		UserIDs:        item.UserIDs,
		MimeType:       item.MimeType,
		Size:           item.Size,
		CreatedAt:      item.CreatedAt,
		UpdatedAt:      item.UpdatedAt,
	}
}

func toItemResponses(items []*storage.Item) []itemResponse {
	out := make([]itemResponse, len(items))
	for i, item := range items {
		out[i] = toItemResponse(item)
	}
	return out
}

type createFileRequest struct {
	ParentID    *string  `json:"parentId"`
	Name        string   `json:"name" validate:"required,max=255"`
	MimeType    string   `json:"mimeType" validate:"max=255"`
	Size        int64    `json:"size" validate:"gte=0"`
	StoragePath string   `json:"storagePath" validate:"required,max=1024"`
	Visibility  string   `json:"visibility" validate:"required"`
	UserIDs     []string `json:"userIds" validate:"max=256,dive,max=64"`
}

type createFolderRequest struct {
	ParentID   *string  `json:"parentId"`
	Name       string   `json:"name" validate:"required,max=255"`
	Visibility string   `json:"visibility" validate:"required"`
	UserIDs    []string `json:"userIds" validate:"max=256,dive,max=64"`
}

type renameRequest struct {
	Name string `json:"name" validate:"required,max=255"`
}

type updateVisibilityRequest struct {
	Visibility string   `json:"visibility" validate:"required"`
	UserIDs    []string `json:"userIds" validate:"max=256,dive,max=64"`
}

// requireValid runs the tag validation on a bound payload and reports
// every violation at once. Deeper semantic checks (name safety,
// membership, visibility) stay in the engine.
func requireValid(c *gin.Context, payload any) bool {
	result := validation.Struct(payload)
	if result.Valid {
		return true
	}
	writeError(c, &storage.StoreError{
		Code:    storage.ErrValidationFailed,
		Message: "invalid request",
		Fields:  result.Errors,
	})
	return false
}

// handleList serves GET /orgs/:orgID/items, optionally scoped to a folder
// with the parentId query parameter.
func (s *Server) handleList(c *gin.Context) {
	var parentID *string
	if v, ok := c.GetQuery("parentId"); ok {
		parentID = &v
	}

	items, err := s.engine.List(c.Request.Context(), identityFrom(c), engine.ListRequest{
		OrganizationID: c.Param("orgID"),
		ParentID:       parentID,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"items": toItemResponses(items)})
}

func (s *Server) handleCreateFile(c *gin.Context) {
	var req createFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, &storage.StoreError{
			Code:    storage.ErrValidationFailed,
			Message: "malformed request body",
		})
		return
	}
	if !requireValid(c, req) {
		return
	}

	visibility, err := parseVisibility(req.Visibility)
	if err != nil {
		writeError(c, err)
		return
	}

	item, err := s.engine.CreateFile(c.Request.Context(), identityFrom(c), engine.CreateFileRequest{
		OrganizationID: c.Param("orgID"),
		ParentID:       req.ParentID,
		Name:           req.Name,
		MimeType:       req.MimeType,
		Size:           req.Size,
		StoragePath:    req.StoragePath,
		Visibility:     visibility,
		UserIDs:        req.UserIDs,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, toItemResponse(item))
}

func (s *Server) handleCreateFolder(c *gin.Context) {
	var req createFolderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, &storage.StoreError{
			Code:    storage.ErrValidationFailed,
			Message: "malformed request body",
		})
		return
	}
	if !requireValid(c, req) {
		return
	}

	visibility, err := parseVisibility(req.Visibility)
	if err != nil {
		writeError(c, err)
		return
	}

	item, err := s.engine.CreateFolder(c.Request.Context(), identityFrom(c), engine.CreateFolderRequest{
		OrganizationID: c.Param("orgID"),
		ParentID:       req.ParentID,
		Name:           req.Name,
		Visibility:     visibility,
		UserIDs:        req.UserIDs,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, toItemResponse(item))
}

func (s *Server) handleRename(c *gin.Context) {
	var req renameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, &storage.StoreError{
			Code:    storage.ErrValidationFailed,
			Message: "malformed request body",
		})
		return
	}
	if !requireValid(c, req) {
		return
	}

	item, err := s.engine.Rename(c.Request.Context(), identityFrom(c), engine.RenameRequest{
		OrganizationID: c.Param("orgID"),
		ItemID:         c.Param("itemID"),
		Name:           req.Name,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, toItemResponse(item))
}

func (s *Server) handleDelete(c *gin.Context) {
	result, err := s.engine.Delete(c.Request.Context(), identityFrom(c), engine.DeleteRequest{
		OrganizationID: c.Param("orgID"),
		ItemID:         c.Param("itemID"),
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"itemsRemoved": result.ItemsRemoved})
}

func (s *Server) handleUpdateVisibility(c *gin.Context) {
	var req updateVisibilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, &storage.StoreError{
			Code:    storage.ErrValidationFailed,
			Message: "malformed request body",
		})
		return
	}
	if !requireValid(c, req) {
		return
	}

	visibility, err := parseVisibility(req.Visibility)
	if err != nil {
		writeError(c, err)
		return
	}

	item, err := s.engine.UpdateVisibility(c.Request.Context(), identityFrom(c), engine.UpdateVisibilityRequest{
		OrganizationID: c.Param("orgID"),
		ItemID:         c.Param("itemID"),
		Visibility:     visibility,
		UserIDs:        req.UserIDs,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, toItemResponse(item))
}

// handleDownload redirects the caller to a short-lived signed URL; the
// bytes never pass through this server.
func (s *Server) handleDownload(c *gin.Context) {
	grant, err := s.engine.Download(c.Request.Context(), identityFrom(c), engine.DownloadRequest{
		OrganizationID: c.Param("orgID"),
		ItemID:         c.Param("itemID"),
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.Redirect(http.StatusFound, grant.URL)
}

func (s *Server) handleHealth(c *gin.Context) {
	if err := s.tree.Healthcheck(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "down"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "up"})
}

// parseVisibility maps the wire name to the domain enum, surfacing
// unknown values as validation failures.
func parseVisibility(s string) (storage.Visibility, error) {
	visibility, err := storage.ParseVisibility(s)
	if err != nil {
		return 0, &storage.StoreError{
			Code:    storage.ErrValidationFailed,
			Message: "invalid request",
			Fields:  []string{"visibility: must be one of org, private, custom"},
		}
	}
	return visibility, nil
}

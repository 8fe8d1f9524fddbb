package engine

import (
	"context"
	"strconv"
	"time"

	"github.com/wardenfs/warden/internal/ratelimiter"
	"github.com/wardenfs/warden/internal/validation"
	"github.com/wardenfs/warden/pkg/audit"
	"github.com/wardenfs/warden/pkg/content"
	"github.com/wardenfs/warden/pkg/storage"
)

// ListRequest asks for the visible children of a folder, or of the
// organisation root when ParentID is nil.
type ListRequest struct {
	OrganizationID string
	ParentID       *string
}

// CreateFileRequest creates a file item. The bytes are already in object
// storage; StoragePath references them.
type CreateFileRequest struct {
	OrganizationID string
	ParentID       *string
	Name           string
	MimeType       string
	Size           int64
	StoragePath    string
	Visibility     storage.Visibility
	UserIDs        []string
}

// CreateFolderRequest creates a folder item.
type CreateFolderRequest struct {
	OrganizationID string
	ParentID       *string
	Name           string
	Visibility     storage.Visibility
	UserIDs        []string
}

// RenameRequest changes an item's display name.
type RenameRequest struct {
	OrganizationID string
	ItemID         string
	Name           string
}

// DeleteRequest removes an item and, for folders, its whole subtree.
type DeleteRequest struct {
	OrganizationID string
	ItemID         string
}

// DeleteResult confirms a completed cascade delete.
type DeleteResult struct {
	// ItemsRemoved counts the target plus every removed descendant.
	ItemsRemoved int
}

// UpdateVisibilityRequest changes the policy governing future
// authorization checks on an item.
type UpdateVisibilityRequest struct {
	OrganizationID string
	ItemID         string
	Visibility     storage.Visibility

	// UserIDs is the explicit grant set for VisibilityCustom. An empty
	// set with VisibilityCustom leaves only the owner with access; this
	// is intentional, not an error.
	UserIDs []string
}

// DownloadRequest asks for a signed download URL for a file.
type DownloadRequest struct {
	OrganizationID string
	ItemID         string
}

// DownloadGrant is an authorized, time-limited download.
type DownloadGrant struct {
	Item      *storage.Item
	URL       string
	ExpiresAt time.Time
}

// List returns the children of a folder that are visible to the caller.
//
// Invisible children are silently omitted, never reported as errors. A
// parent that does not exist and a parent the caller cannot see are both
// NotFound, so existence is not disclosed either way. Successful reads
// are not audited; denials are.
func (e *Engine) List(ctx context.Context, id Identity, req ListRequest) (items []*storage.Item, err error) {
	const op = "list"
	defer e.observe(op, time.Now(), &err)

	if err := e.authenticate(id, req.OrganizationID, op); err != nil {
		return nil, err
	}
	if result := e.validateIDs(id, req.OrganizationID, op, map[string]string{
		"organizationId": req.OrganizationID,
	}, req.ParentID); result != nil {
		return nil, result
	}
	if _, err := e.takeQuota(ctx, id, req.OrganizationID, op, ratelimiter.ClassStorageOps); err != nil {
		return nil, err
	}

	if req.ParentID != nil {
		parent, err := e.tree.GetItem(ctx, req.OrganizationID, *req.ParentID)
		if err != nil {
			return nil, e.storeFailure(id, req.OrganizationID, *req.ParentID, op, err)
		}
		if !e.visibleTo(parent, id) {
			e.deny(id, req.OrganizationID, parent.ID, op, "item_not_visible", nil)
			return nil, notFound(parent.ID)
		}
	}

	children, err := e.tree.ListChildren(ctx, req.OrganizationID, req.ParentID)
	if err != nil {
		return nil, e.storeFailure(id, req.OrganizationID, "", op, err)
	}

	return storage.FilterVisible(children, id.UserID, true), nil
}

// CreateFile persists a new file item owned by the caller.
func (e *Engine) CreateFile(ctx context.Context, id Identity, req CreateFileRequest) (item *storage.Item, err error) {
	const op = "create_file"
	defer e.observe(op, time.Now(), &err)

	if err := e.authenticate(id, req.OrganizationID, op); err != nil {
		return nil, err
	}

	name, nameErr := validation.SanitizeFilename(req.Name)
	fields := idProblems(map[string]string{"organizationId": req.OrganizationID}, req.ParentID)
	if nameErr != nil {
		fields = append(fields, fieldErrors(nameErr)...)
	}
	if req.StoragePath == "" {
		fields = append(fields, "storagePath: must not be empty")
	}
	if req.Size < 0 {
		fields = append(fields, "size: must not be negative")
	}
	if len(fields) > 0 {
		return nil, e.validationError(id, req.OrganizationID, op, fields)
	}

	degraded, err := e.takeQuota(ctx, id, req.OrganizationID, op, ratelimiter.ClassStorageOps)
	if err != nil {
		return nil, err
	}
	if err := e.checkParent(ctx, id, req.OrganizationID, req.ParentID, op); err != nil {
		return nil, err
	}

	item = e.newItem(id, req.OrganizationID, req.ParentID, storage.ItemTypeFile, name, req.Visibility, req.UserIDs)
	item.StoragePath = req.StoragePath
	item.MimeType = req.MimeType
	item.Size = req.Size

	if err := e.tree.InsertItem(ctx, item); err != nil {
		return nil, e.storeFailure(id, req.OrganizationID, item.ID, op, err)
	}

	e.auditSuccess(id, req.OrganizationID, audit.ActionFileCreated, item.ID, map[string]string{
		"name":       item.Name,
		"visibility": item.Visibility.String(),
	}, degraded)
	return item, nil
}

// CreateFolder persists a new folder item owned by the caller.
func (e *Engine) CreateFolder(ctx context.Context, id Identity, req CreateFolderRequest) (item *storage.Item, err error) {
	const op = "create_folder"
	defer e.observe(op, time.Now(), &err)

	if err := e.authenticate(id, req.OrganizationID, op); err != nil {
		return nil, err
	}

	name, nameErr := validation.SanitizeFilename(req.Name)
	fields := idProblems(map[string]string{"organizationId": req.OrganizationID}, req.ParentID)
	if nameErr != nil {
		fields = append(fields, fieldErrors(nameErr)...)
	}
	if len(fields) > 0 {
		return nil, e.validationError(id, req.OrganizationID, op, fields)
	}

	degraded, err := e.takeQuota(ctx, id, req.OrganizationID, op, ratelimiter.ClassStorageOps)
	if err != nil {
		return nil, err
	}
	if err := e.checkParent(ctx, id, req.OrganizationID, req.ParentID, op); err != nil {
		return nil, err
	}

	item = e.newItem(id, req.OrganizationID, req.ParentID, storage.ItemTypeFolder, name, req.Visibility, req.UserIDs)

	if err := e.tree.InsertItem(ctx, item); err != nil {
		return nil, e.storeFailure(id, req.OrganizationID, item.ID, op, err)
	}

	e.auditSuccess(id, req.OrganizationID, audit.ActionFolderCreated, item.ID, map[string]string{
		"name":       item.Name,
		"visibility": item.Visibility.String(),
	}, degraded)
	return item, nil
}

// Rename changes an item's display name.
//
// Unlike List, rename discloses its decision: an invisible target is
// NotFound, a sanitization failure is ValidationFailed. The name is
// sanitized before the mutation and the mutation is rejected whole if
// sanitization fails.
func (e *Engine) Rename(ctx context.Context, id Identity, req RenameRequest) (item *storage.Item, err error) {
	const op = "rename"
	defer e.observe(op, time.Now(), &err)

	if err := e.authenticate(id, req.OrganizationID, op); err != nil {
		return nil, err
	}

	name, nameErr := validation.SanitizeFilename(req.Name)
	fields := idProblems(map[string]string{
		"organizationId": req.OrganizationID,
		"itemId":         req.ItemID,
	}, nil)
	if nameErr != nil {
		fields = append(fields, fieldErrors(nameErr)...)
	}
	if len(fields) > 0 {
		return nil, e.validationError(id, req.OrganizationID, op, fields)
	}

	degraded, err := e.takeQuota(ctx, id, req.OrganizationID, op, ratelimiter.ClassStorageOps)
	if err != nil {
		return nil, err
	}

	target, err := e.requireVisible(ctx, id, req.OrganizationID, req.ItemID, op)
	if err != nil {
		return nil, err
	}
	previousName := target.Name

	item, err = e.tree.UpdateItem(ctx, req.OrganizationID, req.ItemID, func(it *storage.Item) error {
		it.Name = name
		return nil
	})
	if err != nil {
		return nil, e.storeFailure(id, req.OrganizationID, req.ItemID, op, err)
	}

	e.auditSuccess(id, req.OrganizationID, audit.ActionItemRenamed, item.ID, map[string]string{
		"previous_name": previousName,
		"name":          item.Name,
	}, degraded)
	return item, nil
}

// Delete removes an item and every descendant atomically, then schedules
// best-effort cleanup of the backing objects.
func (e *Engine) Delete(ctx context.Context, id Identity, req DeleteRequest) (result *DeleteResult, err error) {
	const op = "delete"
	defer e.observe(op, time.Now(), &err)

	if err := e.authenticate(id, req.OrganizationID, op); err != nil {
		return nil, err
	}
	if result := e.validateIDs(id, req.OrganizationID, op, map[string]string{
		"organizationId": req.OrganizationID,
		"itemId":         req.ItemID,
	}, nil); result != nil {
		return nil, result
	}

	degraded, err := e.takeQuota(ctx, id, req.OrganizationID, op, ratelimiter.ClassStorageOps)
	if err != nil {
		return nil, err
	}

	target, err := e.requireVisible(ctx, id, req.OrganizationID, req.ItemID, op)
	if err != nil {
		return nil, err
	}

	deleted, err := e.tree.DeleteSubtree(ctx, req.OrganizationID, req.ItemID)
	if err != nil {
		return nil, e.storeFailure(id, req.OrganizationID, req.ItemID, op, err)
	}

	var storagePaths []string
	for _, d := range deleted {
		if d.StoragePath != "" {
			storagePaths = append(storagePaths, d.StoragePath)
		}
	}
	e.scheduleCleanup(storagePaths)

	e.auditSuccess(id, req.OrganizationID, audit.ActionItemDeleted, req.ItemID, map[string]string{
		"name":          target.Name,
		"items_removed": strconv.Itoa(len(deleted)),
	}, degraded)
	return &DeleteResult{ItemsRemoved: len(deleted)}, nil
}

// UpdateVisibility changes the policy governing future authorization
// checks on an item. Only the owner may change it: a caller who can see
// the item but does not own it gets Forbidden, a caller who cannot see it
// gets NotFound.
func (e *Engine) UpdateVisibility(ctx context.Context, id Identity, req UpdateVisibilityRequest) (item *storage.Item, err error) {
	const op = "update_visibility"
	defer e.observe(op, time.Now(), &err)

	if err := e.authenticate(id, req.OrganizationID, op); err != nil {
		return nil, err
	}
	if result := e.validateIDs(id, req.OrganizationID, op, map[string]string{
		"organizationId": req.OrganizationID,
		"itemId":         req.ItemID,
	}, nil); result != nil {
		return nil, result
	}

	degraded, err := e.takeQuota(ctx, id, req.OrganizationID, op, ratelimiter.ClassStorageOps)
	if err != nil {
		return nil, err
	}

	target, err := e.requireVisible(ctx, id, req.OrganizationID, req.ItemID, op)
	if err != nil {
		return nil, err
	}
	if target.OwnerID != id.UserID {
		e.deny(id, req.OrganizationID, target.ID, op, "not_owner", nil)
		return nil, &storage.StoreError{
			Code:    storage.ErrForbidden,
			Message: "only the owner may change visibility",
			ItemID:  target.ID,
		}
	}

	item, err = e.tree.UpdateItem(ctx, req.OrganizationID, req.ItemID, func(it *storage.Item) error {
		it.Visibility = req.Visibility
		it.UserIDs = grantSet(req.Visibility, req.UserIDs)
		return nil
	})
	if err != nil {
		return nil, e.storeFailure(id, req.OrganizationID, req.ItemID, op, err)
	}

	e.auditSuccess(id, req.OrganizationID, audit.ActionVisibilityChanged, item.ID, map[string]string{
		"visibility": item.Visibility.String(),
		"grants":     strconv.Itoa(len(item.UserIDs)),
	}, degraded)
	return item, nil
}

// Download authorizes a file download and issues a short-lived signed URL.
//
// Authorization re-derives visibility the same way List does, so a caller
// cannot fetch an item id they could not otherwise see: an invisible file
// is NotFound. Folders are rejected with NotAFile. Bytes never flow
// through the engine; the caller follows the URL directly.
func (e *Engine) Download(ctx context.Context, id Identity, req DownloadRequest) (grant *DownloadGrant, err error) {
	const op = "download"
	defer e.observe(op, time.Now(), &err)

	if err := e.authenticate(id, req.OrganizationID, op); err != nil {
		return nil, err
	}
	if result := e.validateIDs(id, req.OrganizationID, op, map[string]string{
		"organizationId": req.OrganizationID,
		"itemId":         req.ItemID,
	}, nil); result != nil {
		return nil, result
	}

	degraded, err := e.takeQuota(ctx, id, req.OrganizationID, op, ratelimiter.ClassDownload)
	if err != nil {
		return nil, err
	}

	target, err := e.requireVisible(ctx, id, req.OrganizationID, req.ItemID, op)
	if err != nil {
		return nil, err
	}
	if !target.IsFile() {
		return nil, &storage.StoreError{
			Code:    storage.ErrNotAFile,
			Message: "only files can be downloaded",
			ItemID:  target.ID,
		}
	}

	signed, err := e.content.SignedDownloadURL(ctx, content.SignedURLRequest{
		StoragePath: target.StoragePath,
		Filename:    target.Name,
	})
	if err != nil {
		return nil, e.storeFailure(id, req.OrganizationID, target.ID, op, err)
	}

	e.auditSuccess(id, req.OrganizationID, audit.ActionFileDownloaded, target.ID, map[string]string{
		"name": target.Name,
	}, degraded)
	return &DownloadGrant{
		Item:      target,
		URL:       signed.URL,
		ExpiresAt: signed.ExpiresAt,
	}, nil
}

// observe reports one finished operation to metrics.
func (e *Engine) observe(operation string, start time.Time, err *error) {
	e.metrics.ObserveOperation(operation, time.Since(start), *err)
}

// requireVisible fetches the target item and applies the visibility
// resolver. A missing item and an invisible item are both NotFound so the
// caller learns nothing about items they cannot see; only the invisible
// case is an access denial, so only it is audited.
func (e *Engine) requireVisible(ctx context.Context, id Identity, orgID, itemID, operation string) (*storage.Item, error) {
	item, err := e.tree.GetItem(ctx, orgID, itemID)
	if err != nil {
		return nil, e.storeFailure(id, orgID, itemID, operation, err)
	}
	if !e.visibleTo(item, id) {
		e.deny(id, orgID, item.ID, operation, "item_not_visible", nil)
		return nil, notFound(item.ID)
	}
	return item, nil
}

// checkParent verifies that a creation target parent exists and is
// visible. You cannot create inside a folder you cannot see, and the
// denial is indistinguishable from the folder not existing.
func (e *Engine) checkParent(ctx context.Context, id Identity, orgID string, parentID *string, operation string) error {
	if parentID == nil {
		return nil
	}
	_, err := e.requireVisible(ctx, id, orgID, *parentID, operation)
	return err
}

// newItem builds a fresh item owned by the caller.
func (e *Engine) newItem(id Identity, orgID string, parentID *string, itemType storage.ItemType, name string, visibility storage.Visibility, userIDs []string) *storage.Item {
	now := e.now().UTC()
	return &storage.Item{
		ID:             e.newID(),
		OrganizationID: orgID,
		ParentID:       parentID,
		Type:           itemType,
		Name:           name,
		OwnerID:        id.UserID,
		Visibility:     visibility,
		UserIDs:        grantSet(visibility, userIDs),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// validateIDs soft-validates identifier fields and denies on any problem.
func (e *Engine) validateIDs(id Identity, orgID, operation string, fields map[string]string, parentID *string) error {
	problems := idProblems(fields, parentID)
	if len(problems) == 0 {
		return nil
	}
	return e.validationError(id, orgID, operation, problems)
}

func idProblems(fields map[string]string, parentID *string) []string {
	if parentID != nil {
		fields["parentId"] = *parentID
	}
	result := validation.RequireIDs(fields)
	return result.Errors
}

// grantSet normalizes the explicit grant set: only custom visibility
// carries one.
func grantSet(visibility storage.Visibility, userIDs []string) []string {
	if visibility != storage.VisibilityCustom {
		return nil
	}
	if userIDs == nil {
		return []string{}
	}
	return userIDs
}

func notFound(itemID string) error {
	return &storage.StoreError{
		Code:    storage.ErrNotFound,
		Message: "item not found",
		ItemID:  itemID,
	}
}

func fieldErrors(err error) []string {
	var se *storage.StoreError
	if ok := asStoreError(err, &se); ok && len(se.Fields) > 0 {
		return se.Fields
	}
	return []string{"name: invalid"}
}

func asStoreError(err error, target **storage.StoreError) bool {
	se, ok := err.(*storage.StoreError)
	if !ok {
		return false
	}
	*target = se
	return true
}

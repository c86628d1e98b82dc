package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"bimflow/internal/lifecycle"
	"bimflow/internal/metrics"
	"bimflow/internal/model"
	"bimflow/internal/storage"
)

var (
	// ErrInvalidState means the order's status does not allow the
	// requested transfer (e.g. an input upload before payment).
	ErrInvalidState = errors.New("order status does not allow this transfer")
	// ErrUpstream wraps storage gateway failures; clients may retry.
	ErrUpstream = errors.New("storage gateway unavailable")
)

// TransferService brokers the upload and download handshakes. Bytes never
// pass through here: it only issues capability URLs, records File rows
// and drives the matching lifecycle transitions.
type TransferService struct {
	orders  *OrderService
	files   *FileService
	gateway storage.Gateway
	logger  *zap.SugaredLogger
	metrics *metrics.Registry
}

func NewTransferService(orders *OrderService, files *FileService, gateway storage.Gateway, logger *zap.SugaredLogger, reg *metrics.Registry) *TransferService {
	return &TransferService{orders: orders, files: files, gateway: gateway, logger: logger, metrics: reg}
}

// InitiateUpload validates the role-appropriate order status and returns
// a time-limited PUT URL. No File row exists until the upload is
// confirmed.
func (s *TransferService) InitiateUpload(ctx context.Context, order *model.Order, fileName string, role model.FileRole, actor lifecycle.Actor) (string, error) {
	if err := authorizeTransfer(role, actor, order.UserID); err != nil {
		return "", err
	}
	if !lifecycle.UploadStatusOK(role, order.Status) {
		return "", ErrInvalidState
	}

	uploadURL, err := s.gateway.IssueUploadURL(ctx, order.ID, fileName, role)
	if err != nil {
		if errors.Is(err, storage.ErrEmptyFileName) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	s.metrics.URLsIssued.WithLabelValues("upload_" + string(role)).Inc()
	s.logger.Infow("upload url issued", "order", order.ID, "role", role, "file", fileName)
	return uploadURL, nil
}

// ConfirmUpload records the completed transfer and drives the matching
// transition. Confirming twice is safe: the duplicate File row is
// accepted and the already-applied transition reads back as success, so a
// double-submit never surfaces as an error.
func (s *TransferService) ConfirmUpload(ctx context.Context, order *model.Order, fileName string, sizeBytes int64, uploadURL string, contentType string, role model.FileRole, actor lifecycle.Actor) (*model.Order, *model.File, error) {
	if err := authorizeTransfer(role, actor, order.UserID); err != nil {
		return nil, nil, err
	}

	// A confirm is only meaningful once the order reached the upload
	// stage; anything earlier never had a URL issued for it.
	if !lifecycle.UploadStatusOK(role, order.Status) && order.Status.Rank() < confirmTarget(role).Rank() {
		return nil, nil, ErrInvalidState
	}

	key, err := s.gateway.NormalizeKey(uploadURL)
	if err != nil {
		return nil, nil, err
	}
	// The URL must have been issued for this order and role; a key under
	// another order's directory is a capability for someone else's file.
	if !storage.KeyWithin(key, order.ID, role) {
		return nil, nil, lifecycle.ErrForbidden
	}

	var size *int64
	if sizeBytes > 0 {
		size = &sizeBytes
	}
	var ctype *string
	if contentType != "" {
		ctype = &contentType
	}

	file, err := s.files.Create(ctx, order.ID, role, fileName, size, key, ctype)
	if err != nil {
		return nil, nil, err
	}

	event := lifecycle.ConfirmEvent(role)
	updated, err := s.orders.ApplyTransition(ctx, order, event, actor)
	if err == nil {
		return updated, file, nil
	}
	if !errors.Is(err, lifecycle.ErrInvalidTransition) && !errors.Is(err, ErrConflict) {
		return nil, nil, err
	}

	// The transition no longer applies. Re-read: if the order already
	// moved at or past the target this is a retry and reads as success;
	// otherwise the confirm was never valid to begin with.
	current, getErr := s.orders.GetByID(ctx, order.ID)
	if getErr != nil {
		return nil, nil, getErr
	}
	target, _ := lifecycle.Next(order.Status, event)
	if target == "" {
		target = confirmTarget(role)
	}
	if current.Status.Rank() >= target.Rank() {
		s.logger.Infow("duplicate upload confirm", "order", order.ID, "role", role, "status", current.Status)
		return current, file, nil
	}
	return nil, nil, ErrInvalidState
}

// RequestDownload issues a GET URL for a recorded file. Owners may fetch
// deliverables only once the order is complete; admins may fetch any
// recorded file at any time.
func (s *TransferService) RequestDownload(ctx context.Context, order *model.Order, file *model.File, actor lifecycle.Actor) (string, error) {
	if file.OrderID != order.ID {
		return "", ErrFileNotFound
	}
	if !actor.IsAdmin && actor.UserID != order.UserID {
		return "", lifecycle.ErrForbidden
	}
	if file.Role == model.RoleOutput && !actor.IsAdmin && order.Status != model.StatusComplete {
		return "", ErrInvalidState
	}

	downloadURL, err := s.gateway.IssueDownloadURL(ctx, file.StorageKey)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	s.metrics.URLsIssued.WithLabelValues("download_" + string(file.Role)).Inc()
	return downloadURL, nil
}

// RequestDownloadByRole resolves the most recent file of a role and
// issues its download URL. The add-in uses this to fetch the deliverable
// without knowing file ids.
func (s *TransferService) RequestDownloadByRole(ctx context.Context, order *model.Order, role model.FileRole, actor lifecycle.Actor) (string, error) {
	file, err := s.files.LatestByRole(ctx, order.ID, role)
	if err != nil {
		return "", err
	}
	return s.RequestDownload(ctx, order, file, actor)
}

// authorizeTransfer mirrors the lifecycle capability rules for the
// handshake steps that happen before any transition: owners move inputs,
// admins move outputs.
func authorizeTransfer(role model.FileRole, actor lifecycle.Actor, ownerID string) error {
	switch role {
	case model.RoleInput:
		if actor.IsAdmin || actor.UserID == ownerID {
			return nil
		}
	case model.RoleOutput:
		if actor.IsAdmin {
			return nil
		}
	}
	return lifecycle.ErrForbidden
}

func confirmTarget(role model.FileRole) model.Status {
	if role == model.RoleOutput {
		return model.StatusProcessing
	}
	return model.StatusUploaded
}

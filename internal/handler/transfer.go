package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"bimflow/internal/model"
	"bimflow/internal/service"
)

type initiateUploadRequest struct {
	FileName string `json:"file_name"`
}

// InitiateUploadHandler returns a time-limited PUT URL for an order. The
// role is fixed by the route: clients initiate input uploads, admins
// initiate output uploads.
func InitiateUploadHandler(orders *service.OrderService, transfers *service.TransferService, role model.FileRole, logger *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := principal(w, r)
		if !ok {
			return
		}

		var req initiateUploadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		order, err := orders.GetByID(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}

		uploadURL, err := transfers.InitiateUpload(r.Context(), order, req.FileName, role, actorFrom(p))
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"upload_url": uploadURL})
	}
}

type confirmUploadRequest struct {
	FileName    string `json:"file_name"`
	SizeBytes   int64  `json:"size_bytes"`
	UploadURL   string `json:"upload_url"`
	ContentType string `json:"content_type,omitempty"`
}

type confirmUploadResponse struct {
	Order *model.Order `json:"order"`
	File  *model.File  `json:"file"`
}

// ConfirmUploadHandler records the completed transfer and advances the
// order. A retry of an already-confirmed upload responds 200, not an
// error, so clients cannot mistake a double-submit for a failure.
func ConfirmUploadHandler(orders *service.OrderService, transfers *service.TransferService, role model.FileRole, logger *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := principal(w, r)
		if !ok {
			return
		}

		var req confirmUploadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if req.FileName == "" || req.UploadURL == "" {
			http.Error(w, "file_name and upload_url required", http.StatusBadRequest)
			return
		}

		order, err := orders.GetByID(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}

		updated, file, err := transfers.ConfirmUpload(r.Context(), order, req.FileName, req.SizeBytes, req.UploadURL, req.ContentType, role, actorFrom(p))
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, confirmUploadResponse{Order: updated, File: file})
	}
}

// DownloadFileHandler redirects the browser to a time-limited GET URL for
// a specific file.
func DownloadFileHandler(orders *service.OrderService, files *service.FileService, transfers *service.TransferService, logger *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := principal(w, r)
		if !ok {
			return
		}

		order, err := orders.GetByID(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}

		file, err := files.GetByID(r.Context(), chi.URLParam(r, "fileID"))
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}

		downloadURL, err := transfers.RequestDownload(r.Context(), order, file, actorFrom(p))
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}

		http.Redirect(w, r, downloadURL, http.StatusFound)
	}
}

// DownloadByRoleHandler resolves the latest file of a role and returns
// its download URL as JSON. The add-in uses this instead of following
// redirects.
func DownloadByRoleHandler(orders *service.OrderService, transfers *service.TransferService, logger *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := principal(w, r)
		if !ok {
			return
		}

		role := model.FileRole(r.URL.Query().Get("role"))
		if role == "" {
			role = model.RoleOutput
		}
		if !role.Valid() {
			http.Error(w, "unknown file role", http.StatusBadRequest)
			return
		}

		order, err := orders.GetByID(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}

		downloadURL, err := transfers.RequestDownloadByRole(r.Context(), order, role, actorFrom(p))
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"download_url": downloadURL})
	}
}

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/edgelun/edgelun/internal/driver"
	drverr "github.com/edgelun/edgelun/internal/errors"
)

// SnapshotHandler contains handlers for snapshot-level driver operations.
type SnapshotHandler struct {
	drv *driver.Driver
}

// NewSnapshotHandler creates a new SnapshotHandler over the given driver.
func NewSnapshotHandler(drv *driver.Driver) *SnapshotHandler {
	return &SnapshotHandler{drv: drv}
}

// createSnapshotRequest is the body of POST /v1/volumes/{name}/snapshots.
type createSnapshotRequest struct {
	Name string `json:"name"`
}

// Create handles POST /v1/volumes/{name}/snapshots.
func (h *SnapshotHandler) Create(w http.ResponseWriter, r *http.Request) {
	volume := chi.URLParam(r, "name")

	var req createSnapshotRequest
	if !readJSON(w, r, &req) {
		return
	}
	if !validName(req.Name) {
		writeError(w, drverr.ErrInvalidRequest.WithMessage("invalid snapshot name %q", req.Name))
		return
	}
	if err := h.drv.CreateSnapshot(r.Context(), volume, req.Name); err != nil {
		slog.Error("CreateSnapshot error", "volume", volume, "snapshot", req.Name, "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"volume": volume, "name": req.Name})
}

// Delete handles DELETE /v1/volumes/{name}/snapshots/{snapshot}.
func (h *SnapshotHandler) Delete(w http.ResponseWriter, r *http.Request) {
	volume := chi.URLParam(r, "name")
	snapshot := chi.URLParam(r, "snapshot")

	if err := h.drv.DeleteSnapshot(r.Context(), volume, snapshot); err != nil {
		slog.Error("DeleteSnapshot error", "volume", volume, "snapshot", snapshot, "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

// restoreRequest is the body of
// POST /v1/volumes/{name}/snapshots/{snapshot}/restore.
type restoreRequest struct {
	Name   string `json:"name"`
	SizeGB int64  `json:"size_gb"`
}

// Restore handles POST /v1/volumes/{name}/snapshots/{snapshot}/restore,
// creating a new volume from the snapshot.
func (h *SnapshotHandler) Restore(w http.ResponseWriter, r *http.Request) {
	volume := chi.URLParam(r, "name")
	snapshot := chi.URLParam(r, "snapshot")

	var req restoreRequest
	if !readJSON(w, r, &req) {
		return
	}
	if !validName(req.Name) {
		writeError(w, drverr.ErrInvalidRequest.WithMessage("invalid volume name %q", req.Name))
		return
	}
	if req.SizeGB < 1 {
		writeError(w, drverr.ErrInvalidRequest.WithMessage("size_gb must be at least 1"))
		return
	}
	export, err := h.drv.CreateVolumeFromSnapshot(r.Context(), req.Name, volume, snapshot, req.SizeGB)
	if err != nil {
		slog.Error("CreateVolumeFromSnapshot error",
			"volume", req.Name, "source", volume, "snapshot", snapshot, "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, export)
}

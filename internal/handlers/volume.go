package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/edgelun/edgelun/internal/driver"
	drverr "github.com/edgelun/edgelun/internal/errors"
)

// VolumeHandler contains handlers for volume-level driver operations.
type VolumeHandler struct {
	drv *driver.Driver
}

// NewVolumeHandler creates a new VolumeHandler over the given driver.
func NewVolumeHandler(drv *driver.Driver) *VolumeHandler {
	return &VolumeHandler{drv: drv}
}

// createVolumeRequest is the body of POST /v1/volumes.
type createVolumeRequest struct {
	Name   string `json:"name"`
	SizeGB int64  `json:"size_gb"`
}

// volumeResponse describes one mapped volume.
type volumeResponse struct {
	Name             string `json:"name"`
	LUN              int    `json:"lun"`
	LocalPath        string `json:"local_path"`
	ProviderLocation string `json:"provider_location"`
}

// Create handles POST /v1/volumes.
func (h *VolumeHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createVolumeRequest
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

	export, err := h.drv.CreateVolume(r.Context(), req.Name, req.SizeGB)
	if err != nil {
		slog.Error("CreateVolume error", "volume", req.Name, "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, export)
}

// List handles GET /v1/volumes and returns the current name map.
func (h *VolumeHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.drv.Volumes())
}

// Get handles GET /v1/volumes/{name}.
func (h *VolumeHandler) Get(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	local, err := h.drv.LocalPath(name)
	if err != nil {
		writeError(w, err)
		return
	}
	export, err := h.drv.CreateExport(name)
	if err != nil {
		writeError(w, err)
		return
	}
	info, err := h.drv.InitializeConnection(name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, volumeResponse{
		Name:             name,
		LUN:              info.Data.TargetLUN,
		LocalPath:        local,
		ProviderLocation: export.ProviderLocation,
	})
}

// Delete handles DELETE /v1/volumes/{name}.
func (h *VolumeHandler) Delete(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if err := h.drv.DeleteVolume(r.Context(), name); err != nil {
		slog.Error("DeleteVolume error", "volume", name, "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

// extendRequest is the body of POST /v1/volumes/{name}/extend.
type extendRequest struct {
	NewSizeGB int64 `json:"new_size_gb"`
}

// Extend handles POST /v1/volumes/{name}/extend.
func (h *VolumeHandler) Extend(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req extendRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.NewSizeGB < 1 {
		writeError(w, drverr.ErrInvalidRequest.WithMessage("new_size_gb must be at least 1"))
		return
	}
	if err := h.drv.ExtendVolume(r.Context(), name, req.NewSizeGB); err != nil {
		slog.Error("ExtendVolume error", "volume", name, "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

// cloneRequest is the body of POST /v1/volumes/{name}/clone.
type cloneRequest struct {
	Name   string `json:"name"`
	SizeGB int64  `json:"size_gb"`
}

// Clone handles POST /v1/volumes/{name}/clone, creating a new volume cloned
// from the named source.
func (h *VolumeHandler) Clone(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "name")

	var req cloneRequest
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
	export, err := h.drv.CreateClonedVolume(r.Context(), req.Name, source, req.SizeGB)
	if err != nil {
		slog.Error("CreateClonedVolume error", "volume", req.Name, "source", source, "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, export)
}

// Connection handles GET /v1/volumes/{name}/connection.
func (h *VolumeHandler) Connection(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	info, err := h.drv.InitializeConnection(name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// TerminateConnection handles DELETE /v1/volumes/{name}/connection. The
// driver keeps no session state, so this only validates the volume exists.
func (h *VolumeHandler) TerminateConnection(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if err := h.drv.TerminateConnection(name); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

// CreateExport handles POST /v1/volumes/{name}/export.
func (h *VolumeHandler) CreateExport(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	export, err := h.drv.CreateExport(name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, export)
}

// EnsureExport handles PUT /v1/volumes/{name}/export.
func (h *VolumeHandler) EnsureExport(w http.ResponseWriter, r *http.Request) {
	if err := h.drv.EnsureExport(chi.URLParam(r, "name")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

// RemoveExport handles DELETE /v1/volumes/{name}/export.
func (h *VolumeHandler) RemoveExport(w http.ResponseWriter, r *http.Request) {
	if err := h.drv.RemoveExport(chi.URLParam(r, "name")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

// Backup handles POST /v1/volumes/{name}/backup. Always unsupported.
func (h *VolumeHandler) Backup(w http.ResponseWriter, r *http.Request) {
	writeError(w, h.drv.BackupVolume(chi.URLParam(r, "name")))
}

// RestoreBackup handles POST /v1/volumes/{name}/restore-backup. Always
// unsupported.
func (h *VolumeHandler) RestoreBackup(w http.ResponseWriter, r *http.Request) {
	writeError(w, h.drv.RestoreBackup(chi.URLParam(r, "name")))
}

// Stats handles GET /v1/stats.
func (h *VolumeHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.drv.GetVolumeStats())
}

// CheckSetup handles GET /v1/setup/check.
func (h *VolumeHandler) CheckSetup(w http.ResponseWriter, r *http.Request) {
	if err := h.drv.CheckSetup(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Package driver exposes the orchestrator-facing volume driver facade. It
// translates operation requests into lifecycle manager calls and formats the
// results (provider locations, connection info, capability reports).
package driver

import (
	"context"
	"fmt"

	drverr "github.com/edgelun/edgelun/internal/errors"
	"github.com/edgelun/edgelun/internal/lifecycle"
)

// Driver identity constants reported in capability stats.
const (
	Name     = "EdgeISCSIDriver"
	Vendor   = "Nexenta"
	Version  = "1.0.0"
	Protocol = "iSCSI"
)

// ExportInfo carries the provider-location string for a created or exported
// volume.
type ExportInfo struct {
	ProviderLocation string `json:"provider_location"`
}

// Stats is the capability and statistics report. The backend reports no
// capacity bounds, so total and free capacity are "infinite".
type Stats struct {
	VolumeBackendName     string `json:"volume_backend_name"`
	VendorName            string `json:"vendor_name"`
	DriverVersion         string `json:"driver_version"`
	StorageProtocol       string `json:"storage_protocol"`
	ReservedPercentage    int    `json:"reserved_percentage"`
	TotalCapacityGB       string `json:"total_capacity_gb"`
	FreeCapacityGB        string `json:"free_capacity_gb"`
	QoSSupport            bool   `json:"QoS_support"`
	LocationInfo          string `json:"location_info"`
	ISCSITargetPortalPort int    `json:"iscsi_target_portal_port"`
	RestAPIURL            string `json:"restapi_url"`
}

// Driver is the volume driver facade over one bucket's lifecycle manager.
type Driver struct {
	mgr         *lifecycle.Manager
	backendName string
}

// New creates a Driver. backendName may be empty, in which case stats report
// the driver name.
func New(mgr *lifecycle.Manager, backendName string) *Driver {
	return &Driver{mgr: mgr, backendName: backendName}
}

// BackendName returns the configured volume backend name, falling back to
// the driver name.
func (d *Driver) BackendName() string {
	if d.backendName != "" {
		return d.backendName
	}
	return Name
}

// Setup discovers the iSCSI target identity and loads the bucket name map.
func (d *Driver) Setup(ctx context.Context) error {
	return d.mgr.Setup(ctx)
}

// CheckSetup verifies the bucket is reachable.
func (d *Driver) CheckSetup(ctx context.Context) error {
	return d.mgr.CheckSetup(ctx)
}

// CreateVolume creates a volume and returns its provider location.
func (d *Driver) CreateVolume(ctx context.Context, name string, sizeGB int64) (ExportInfo, error) {
	addr, err := d.mgr.CreateVolume(ctx, name, sizeGB)
	if err != nil {
		return ExportInfo{}, err
	}
	return ExportInfo{ProviderLocation: addr.ProviderLocation()}, nil
}

// DeleteVolume deletes a volume.
func (d *Driver) DeleteVolume(ctx context.Context, name string) error {
	return d.mgr.DeleteVolume(ctx, name)
}

// ExtendVolume resizes a volume in place.
func (d *Driver) ExtendVolume(ctx context.Context, name string, newSizeGB int64) error {
	return d.mgr.ExtendVolume(ctx, name, newSizeGB)
}

// CreateVolumeFromSnapshot creates a new volume from an existing snapshot.
func (d *Driver) CreateVolumeFromSnapshot(ctx context.Context, name, sourceVolume, snapshotName string, sizeGB int64) (ExportInfo, error) {
	addr, err := d.mgr.CreateVolumeFromSnapshot(ctx, name, sourceVolume, snapshotName, sizeGB)
	if err != nil {
		return ExportInfo{}, err
	}
	return ExportInfo{ProviderLocation: addr.ProviderLocation()}, nil
}

// CreateSnapshot creates a snapshot of a volume.
func (d *Driver) CreateSnapshot(ctx context.Context, volumeName, snapshotName string) error {
	return d.mgr.CreateSnapshot(ctx, volumeName, snapshotName)
}

// DeleteSnapshot deletes a snapshot of a volume.
func (d *Driver) DeleteSnapshot(ctx context.Context, volumeName, snapshotName string) error {
	return d.mgr.DeleteSnapshot(ctx, volumeName, snapshotName)
}

// CreateClonedVolume creates a new volume as a clone of an existing one.
func (d *Driver) CreateClonedVolume(ctx context.Context, name, sourceVolume string, sizeGB int64) (ExportInfo, error) {
	addr, err := d.mgr.CreateClonedVolume(ctx, name, sourceVolume, sizeGB)
	if err != nil {
		return ExportInfo{}, err
	}
	return ExportInfo{ProviderLocation: addr.ProviderLocation()}, nil
}

// CreateExport returns the provider location for an already mapped volume.
func (d *Driver) CreateExport(name string) (ExportInfo, error) {
	addr, err := d.mgr.GetAddress(name)
	if err != nil {
		return ExportInfo{}, err
	}
	return ExportInfo{ProviderLocation: addr.ProviderLocation()}, nil
}

// EnsureExport is a no-op: the backend keeps no export-session state.
func (d *Driver) EnsureExport(name string) error {
	return nil
}

// RemoveExport is a no-op: the backend keeps no export-session state.
func (d *Driver) RemoveExport(name string) error {
	return nil
}

// InitializeConnection returns the iSCSI connection descriptor for a volume.
func (d *Driver) InitializeConnection(name string) (lifecycle.ConnectionInfo, error) {
	return d.mgr.GetConnectionInfo(name)
}

// TerminateConnection is a no-op: there is no session state to tear down.
func (d *Driver) TerminateConnection(name string) error {
	return nil
}

// LocalPath returns the object path backing a mapped volume.
func (d *Driver) LocalPath(name string) (string, error) {
	return d.mgr.LocalPath(name)
}

// BackupVolume is unsupported by this driver.
func (d *Driver) BackupVolume(name string) error {
	return drverr.ErrUnsupported.WithMessage("volume backup is not supported")
}

// RestoreBackup is unsupported by this driver.
func (d *Driver) RestoreBackup(name string) error {
	return drverr.ErrUnsupported.WithMessage("backup restore is not supported")
}

// Volumes returns the current name map.
func (d *Driver) Volumes() map[string]int {
	return d.mgr.Volumes()
}

// GetVolumeStats returns the capability and statistics report.
func (d *Driver) GetVolumeStats() Stats {
	return Stats{
		VolumeBackendName:     d.BackendName(),
		VendorName:            Vendor,
		DriverVersion:         Version,
		StorageProtocol:       Protocol,
		ReservedPercentage:    0,
		TotalCapacityGB:       "infinite",
		FreeCapacityGB:        "infinite",
		QoSSupport:            false,
		LocationInfo:          fmt.Sprintf("%s:%s:%s", Name, d.mgr.Host(), d.mgr.BucketPath()),
		ISCSITargetPortalPort: d.mgr.PortalPort(),
		RestAPIURL:            d.mgr.BackendURL(),
	}
}

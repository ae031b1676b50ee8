// Package lifecycle orchestrates the multi-step management REST sequences
// behind volume create, delete, extend, snapshot, and clone operations.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/edgelun/edgelun/internal/backend"
	"github.com/edgelun/edgelun/internal/config"
	drverr "github.com/edgelun/edgelun/internal/errors"
	"github.com/edgelun/edgelun/internal/metrics"
	"github.com/edgelun/edgelun/internal/namemap"
)

// LUN geometry is fixed for every exported device.
const (
	LUNBlockSize = 512
	LUNChunkSize = 131072
)

// Address is the iSCSI addressing metadata for a mapped volume: enough for
// the caller to construct a provider-location string.
type Address struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	TargetName string `json:"target_name"`
	LUN        int    `json:"lun"`
}

// ProviderLocation formats the address as the provider-location string handed
// to iSCSI initiators: "host:port,1 targetName lunNumber".
func (a Address) ProviderLocation() string {
	return fmt.Sprintf("%s:%d,1 %s %d", a.Host, a.Port, a.TargetName, a.LUN)
}

// ConnectionData is the iSCSI connection descriptor for a mapped volume.
type ConnectionData struct {
	BucketPath       string `json:"bucket_path"`
	TargetDiscovered bool   `json:"target_discovered"`
	TargetLUN        int    `json:"target_lun"`
	TargetIQN        string `json:"target_iqn"`
	TargetPortal     string `json:"target_portal"`
	VolumeID         string `json:"volume_id"`
	AccessMode       string `json:"access_mode"`
}

// ConnectionInfo is the full connection descriptor returned to initiators.
type ConnectionInfo struct {
	DriverVolumeType string         `json:"driver_volume_type"`
	Data             ConnectionData `json:"data"`
}

// Manager owns the name-map store for one bucket and runs every lifecycle
// sequence against the management API. A single mutex serializes the
// allocate+REST+persist sequences, so two concurrent creates on the same
// instance can never be assigned the same LUN number. Concurrent writers on
// *other* instances are caught by the name map's revision token instead.
type Manager struct {
	mu     sync.Mutex
	client backend.Client
	names  *namemap.Store

	cluster    string
	tenant     string
	bucket     string
	bucketPath string
	bucketURL  string
	host       string
	portalPort int

	// targetName is discovered once at Setup and cached for the process
	// lifetime.
	targetName string
}

// New creates a Manager for the given bucket path. The bucket context is
// immutable for the manager's lifetime.
func New(client backend.Client, bucketPath, host string, portalPort int) (*Manager, error) {
	cluster, tenant, bucket, err := config.SplitBucketPath(bucketPath)
	if err != nil {
		return nil, err
	}
	bucketURL := "clusters/" + cluster + "/tenants/" + tenant + "/buckets/" + bucket
	return &Manager{
		client:     client,
		names:      namemap.NewStore(client, bucketURL),
		cluster:    cluster,
		tenant:     tenant,
		bucket:     bucket,
		bucketPath: bucketPath,
		bucketURL:  bucketURL,
		host:       host,
		portalPort: portalPort,
	}, nil
}

// Setup discovers the bucket's iSCSI target identity and loads the name map.
// It must be called once before any lifecycle operation.
func (m *Manager) Setup(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rsp, err := m.client.Get(ctx, "sysconfig/iscsi/status")
	if err != nil {
		slog.Error("error reaching storage cluster", "host", m.host, "error", err)
		return drverr.ErrBackendUnreachable.Wrap(err)
	}
	target, err := parseTargetName(rsp.String("value"))
	if err != nil {
		return err
	}
	m.targetName = target

	if err := m.names.Load(ctx); err != nil {
		return err
	}
	slog.Info("lifecycle manager ready",
		"bucket", m.bucketPath, "target", m.targetName, "volumes", m.names.Len())
	return nil
}

// parseTargetName extracts the target IQN from the iSCSI status report: the
// third whitespace-delimited token of the first line.
func parseTargetName(status string) (string, error) {
	line, _, _ := strings.Cut(status, "\n")
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return "", fmt.Errorf("unexpected iscsi status format: %q", line)
	}
	return fields[2], nil
}

// CheckSetup verifies the bucket is reachable on the management API.
func (m *Manager) CheckSetup(ctx context.Context) error {
	if _, err := m.client.Get(ctx, m.bucketURL); err != nil {
		return drverr.ErrBackendUnreachable.Wrap(err)
	}
	return nil
}

// CreateVolume allocates a LUN number, creates the backing LUN on the
// cluster, and records the mapping. The map is mutated and persisted only
// after the backend object exists; any failure surfaces as
// VolumeCreateFailed with no mapping committed.
func (m *Manager) CreateVolume(ctx context.Context, name string, sizeGB int64) (Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var err error
	defer func() { metrics.RecordOperation("create_volume", err) }()

	if m.names.Contains(name) {
		err = drverr.ErrVolumeExists.WithMessage("volume %q already exists", name)
		return Address{}, err
	}
	lun, err := m.names.AllocateLUN()
	if err != nil {
		slog.Error("failed to allocate LUN number", "bucket", m.bucketPath)
		return Address{}, err
	}

	if _, err = m.client.Post(ctx, "iscsi", backend.Params{
		"objectPath": m.objectPath(lun),
		"volSizeMB":  sizeGB * 1024,
		"blockSize":  LUNBlockSize,
		"chunkSize":  LUNChunkSize,
		"number":     lun,
	}); err != nil {
		slog.Error("error while creating volume", "volume", name, "error", err)
		err = drverr.ErrVolumeCreateFailed.Wrap(err)
		return Address{}, err
	}

	if err = m.commitMapping(ctx, name, lun); err != nil {
		err = drverr.ErrVolumeCreateFailed.Wrap(err)
		return Address{}, err
	}

	slog.Info("created volume", "volume", name, "lun", lun, "size_gb", sizeGB)
	return m.address(lun), nil
}

// commitMapping records name -> lun and persists the map. When the persist
// fails the in-memory entry is reverted and the freshly created LUN is torn
// down best-effort, so the map never claims an object the bucket will not
// keep addressable.
func (m *Manager) commitMapping(ctx context.Context, name string, lun int) error {
	m.names.Put(name, lun)
	if err := m.names.Persist(ctx); err != nil {
		m.names.Remove(name)
		if _, derr := m.client.Delete(ctx, "iscsi/"+strconv.Itoa(lun), backend.Params{
			"objectPath": m.objectPath(lun),
		}); derr != nil {
			slog.Error("rollback of LUN failed after persist error",
				"volume", name, "lun", lun, "error", derr)
		}
		return err
	}
	return nil
}

// DeleteVolume tears down the backing LUN and drops the mapping. A REST
// failure leaves the map entry intact and surfaces as VolumeDeleteFailed.
func (m *Manager) DeleteVolume(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var err error
	defer func() { metrics.RecordOperation("delete_volume", err) }()

	lun, err := m.names.LookupLUN(name)
	if err != nil {
		return err
	}

	if _, err = m.client.Delete(ctx, "iscsi/"+strconv.Itoa(lun), backend.Params{
		"objectPath": m.objectPath(lun),
	}); err != nil {
		slog.Error("error while deleting volume", "volume", name, "error", err)
		err = drverr.ErrVolumeDeleteFailed.Wrap(err)
		return err
	}

	m.names.Remove(name)
	if err = m.names.Persist(ctx); err != nil {
		// The LUN is already gone, so the in-memory removal stands; the next
		// successful persist heals the stored map.
		slog.Error("persisting name map after delete failed", "volume", name, "error", err)
		err = drverr.ErrVolumeDeleteFailed.Wrap(err)
		return err
	}

	slog.Info("deleted volume", "volume", name, "lun", lun)
	return nil
}

// ExtendVolume resizes the backing LUN in place. No map mutation; failures
// surface as-is.
func (m *Manager) ExtendVolume(ctx context.Context, name string, newSizeGB int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var err error
	defer func() { metrics.RecordOperation("extend_volume", err) }()

	lun, err := m.names.LookupLUN(name)
	if err != nil {
		return err
	}
	if _, err = m.client.Post(ctx, "iscsi/"+strconv.Itoa(lun)+"/resize", backend.Params{
		"objectPath": m.objectPath(lun),
		"newSizeMB":  newSizeGB * 1024,
	}); err != nil {
		return err
	}
	slog.Info("extended volume", "volume", name, "lun", lun, "new_size_gb", newSizeGB)
	return nil
}

// CreateSnapshot creates a snapshot in the snapview attached to the volume's
// source object. No map interaction.
func (m *Manager) CreateSnapshot(ctx context.Context, volumeName, snapshotName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var err error
	defer func() { metrics.RecordOperation("create_snapshot", err) }()

	lun, err := m.names.LookupLUN(volumeName)
	if err != nil {
		return err
	}
	if _, err = m.client.Post(ctx, m.snapviewURL(lun), backend.Params{
		"ss_bucket": m.bucket,
		"ss_object": strconv.Itoa(lun),
		"ss_name":   snapshotName,
	}); err != nil {
		return err
	}
	slog.Info("created snapshot", "volume", volumeName, "snapshot", snapshotName, "lun", lun)
	return nil
}

// DeleteSnapshot removes a snapshot from the volume's snapview. No map
// interaction.
func (m *Manager) DeleteSnapshot(ctx context.Context, volumeName, snapshotName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var err error
	defer func() { metrics.RecordOperation("delete_snapshot", err) }()

	lun, err := m.names.LookupLUN(volumeName)
	if err != nil {
		return err
	}
	if _, err = m.client.Delete(ctx, m.snapshotURL(lun, snapshotName), nil); err != nil {
		return err
	}
	slog.Info("deleted snapshot", "volume", volumeName, "snapshot", snapshotName, "lun", lun)
	return nil
}

// CreateVolumeFromSnapshot materializes a snapshot into a new object named
// after a freshly allocated LUN number, then creates a LUN over it. Any
// failure aborts before the map is mutated.
func (m *Manager) CreateVolumeFromSnapshot(ctx context.Context, name, sourceVolume, snapshotName string, sizeGB int64) (Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var err error
	defer func() { metrics.RecordOperation("create_volume_from_snapshot", err) }()

	if m.names.Contains(name) {
		err = drverr.ErrVolumeExists.WithMessage("volume %q already exists", name)
		return Address{}, err
	}
	srcLUN, err := m.names.LookupLUN(sourceVolume)
	if err != nil {
		return Address{}, err
	}
	newLUN, err := m.names.AllocateLUN()
	if err != nil {
		return Address{}, err
	}

	if _, err = m.client.Post(ctx, m.snapshotURL(srcLUN, snapshotName), backend.Params{
		"ss_tenant": m.tenant,
		"ss_bucket": m.bucket,
		"ss_object": strconv.Itoa(newLUN),
	}); err != nil {
		slog.Error("error while restoring snapshot", "snapshot", snapshotName, "error", err)
		err = drverr.ErrVolumeCreateFailed.Wrap(err)
		return Address{}, err
	}

	if err = m.createLUNOver(ctx, newLUN, sizeGB); err != nil {
		slog.Error("error while creating volume from snapshot", "volume", name, "error", err)
		err = drverr.ErrVolumeCreateFailed.Wrap(err)
		return Address{}, err
	}

	if err = m.commitMapping(ctx, name, newLUN); err != nil {
		err = drverr.ErrVolumeCreateFailed.Wrap(err)
		return Address{}, err
	}

	slog.Info("created volume from snapshot",
		"volume", name, "source", sourceVolume, "snapshot", snapshotName, "lun", newLUN)
	return m.address(newLUN), nil
}

// CreateClonedVolume clones the source volume's object into a new object
// named after a freshly allocated LUN number, then creates a LUN over it.
// Same abort-before-commit policy as the snapshot-restore path.
func (m *Manager) CreateClonedVolume(ctx context.Context, name, sourceVolume string, sizeGB int64) (Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var err error
	defer func() { metrics.RecordOperation("create_cloned_volume", err) }()

	if m.names.Contains(name) {
		err = drverr.ErrVolumeExists.WithMessage("volume %q already exists", name)
		return Address{}, err
	}
	srcLUN, err := m.names.LookupLUN(sourceVolume)
	if err != nil {
		return Address{}, err
	}
	newLUN, err := m.names.AllocateLUN()
	if err != nil {
		return Address{}, err
	}

	if _, err = m.client.Post(ctx, m.bucketURL+"/objects/"+strconv.Itoa(srcLUN)+"/clone", backend.Params{
		"tenant_name": m.tenant,
		"bucket_name": m.bucket,
		"object_name": strconv.Itoa(newLUN),
	}); err != nil {
		slog.Error("error cloning volume object", "volume", sourceVolume, "error", err)
		err = drverr.ErrVolumeCreateFailed.Wrap(err)
		return Address{}, err
	}

	if err = m.createLUNOver(ctx, newLUN, sizeGB); err != nil {
		slog.Error("error while creating cloned volume", "volume", name, "error", err)
		err = drverr.ErrVolumeCreateFailed.Wrap(err)
		return Address{}, err
	}

	if err = m.commitMapping(ctx, name, newLUN); err != nil {
		err = drverr.ErrVolumeCreateFailed.Wrap(err)
		return Address{}, err
	}

	slog.Info("created cloned volume", "volume", name, "source", sourceVolume, "lun", newLUN)
	return m.address(newLUN), nil
}

// createLUNOver creates a LUN over an object that already exists in the
// bucket (materialized snapshot or clone).
func (m *Manager) createLUNOver(ctx context.Context, lun int, sizeGB int64) error {
	_, err := m.client.Post(ctx, "iscsi", backend.Params{
		"objectPath": m.objectPath(lun),
		"volSizeMB":  sizeGB * 1024,
		"blockSize":  LUNBlockSize,
		"chunkSize":  LUNChunkSize,
		"number":     lun,
	})
	return err
}

// GetConnectionInfo returns the iSCSI connection descriptor for a mapped
// volume. Pure read, no side effects.
func (m *Manager) GetConnectionInfo(name string) (ConnectionInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	lun, err := m.names.LookupLUN(name)
	if err != nil {
		return ConnectionInfo{}, err
	}
	return ConnectionInfo{
		DriverVolumeType: "iscsi",
		Data: ConnectionData{
			BucketPath:       m.bucketPath,
			TargetDiscovered: true,
			TargetLUN:        lun,
			TargetIQN:        m.targetName,
			TargetPortal:     fmt.Sprintf("%s:%d", m.host, m.portalPort),
			VolumeID:         name,
			AccessMode:       "rw",
		},
	}, nil
}

// GetAddress returns the addressing metadata for a mapped volume.
func (m *Manager) GetAddress(name string) (Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	lun, err := m.names.LookupLUN(name)
	if err != nil {
		return Address{}, err
	}
	return m.address(lun), nil
}

// LocalPath returns the bucket-relative object path backing a mapped volume.
func (m *Manager) LocalPath(name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	lun, err := m.names.LookupLUN(name)
	if err != nil {
		return "", err
	}
	return m.objectPath(lun), nil
}

// VolumeCount returns the number of mapped volumes.
func (m *Manager) VolumeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.names.Len()
}

// Volumes returns a copy of the current name map.
func (m *Manager) Volumes() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.names.Entries()
}

// TargetName returns the iSCSI target name discovered at Setup.
func (m *Manager) TargetName() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.targetName
}

// BucketPath returns the cluster/tenant/bucket path this manager addresses.
func (m *Manager) BucketPath() string {
	return m.bucketPath
}

// Host returns the management API host.
func (m *Manager) Host() string {
	return m.host
}

// PortalPort returns the iSCSI target portal port.
func (m *Manager) PortalPort() int {
	return m.portalPort
}

// BackendURL returns the management API base URL for reporting.
func (m *Manager) BackendURL() string {
	return m.client.URL()
}

func (m *Manager) objectPath(lun int) string {
	return m.bucketPath + "/" + strconv.Itoa(lun)
}

func (m *Manager) snapviewURL(lun int) string {
	return m.bucketURL + "/snapviews/" + strconv.Itoa(lun) + ".snapview"
}

func (m *Manager) snapshotURL(lun int, name string) string {
	return m.snapviewURL(lun) + "/snapshots/" + name
}

func (m *Manager) address(lun int) Address {
	return Address{
		Host:       m.host,
		Port:       m.portalPort,
		TargetName: m.targetName,
		LUN:        lun,
	}
}

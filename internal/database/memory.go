package database

import (
	"context"
	"sort"
	"sync"
	"time"

	"screen-service/internal/models"
)

// MemoryRepository keeps everything in process memory behind one mutex.
// It backs STORE_DRIVER=memory and the package tests. Records are copied on
// the way in and out so callers never share state with the store.
type MemoryRepository struct {
	mu           sync.Mutex
	devices      map[string]*models.Device
	hardwareIdx  map[string]string
	instances    map[string]*models.Instance
	backendTypes map[string]*models.BackendType
	assignments  map[string][]*models.Assignment
	frames       map[string]*models.Frame
	// frameOrder holds frame ids per instance, oldest first.
	frameOrder map[string][]string
	inputs     []*models.InputRecord
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		devices:      make(map[string]*models.Device),
		hardwareIdx:  make(map[string]string),
		instances:    make(map[string]*models.Instance),
		backendTypes: make(map[string]*models.BackendType),
		assignments:  make(map[string][]*models.Assignment),
		frames:       make(map[string]*models.Frame),
		frameOrder:   make(map[string][]string),
	}
}

func (m *MemoryRepository) Close() error { return nil }

func copyDevice(d *models.Device) *models.Device {
	c := *d
	if d.AuthorizedAt != nil {
		t := *d.AuthorizedAt
		c.AuthorizedAt = &t
	}
	if d.LastSeenAt != nil {
		t := *d.LastSeenAt
		c.LastSeenAt = &t
	}
	return &c
}

func copyDisplay(d *models.DisplayConfig) *models.DisplayConfig {
	if d == nil {
		return nil
	}
	c := *d
	return &c
}

func copyInstance(i *models.Instance) *models.Instance {
	c := *i
	c.Display = copyDisplay(i.Display)
	if i.InitializedAt != nil {
		t := *i.InitializedAt
		c.InitializedAt = &t
	}
	return &c
}

func copyBackendType(bt *models.BackendType) *models.BackendType {
	c := *bt
	c.DefaultDisplay = copyDisplay(bt.DefaultDisplay)
	return &c
}

func copyFrame(f *models.Frame) *models.Frame {
	c := *f
	c.Data = append([]byte(nil), f.Data...)
	return &c
}

// ---------------------------------------------------------------------------
// Devices

func (m *MemoryRepository) CreateDevice(_ context.Context, d *models.Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.hardwareIdx[d.HardwareID]; ok {
		return ErrDuplicate
	}
	if _, ok := m.devices[d.DeviceID]; ok {
		return ErrDuplicate
	}
	c := copyDevice(d)
	c.UpdatedAt = c.CreatedAt
	m.devices[d.DeviceID] = c
	m.hardwareIdx[d.HardwareID] = d.DeviceID
	return nil
}

func (m *MemoryRepository) GetDevice(_ context.Context, deviceID string) (*models.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.devices[deviceID]
	if !ok {
		return nil, nil
	}
	return copyDevice(d), nil
}

func (m *MemoryRepository) GetDeviceByHardwareID(_ context.Context, hardwareID string) (*models.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.hardwareIdx[hardwareID]
	if !ok {
		return nil, nil
	}
	return copyDevice(m.devices[id]), nil
}

func (m *MemoryRepository) ListDevices(_ context.Context, status models.AuthStatus) ([]*models.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.Device
	for _, d := range m.devices {
		if status == "" || d.AuthStatus == status {
			out = append(out, copyDevice(d))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].DeviceID < out[j].DeviceID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryRepository) UpdateDevice(_ context.Context, deviceID string, fn DeviceMutation) (*models.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.devices[deviceID]
	if !ok {
		return nil, ErrNotFound
	}
	c := copyDevice(d)
	if err := fn(c); err != nil {
		return nil, err
	}
	c.UpdatedAt = time.Now().UTC()
	m.devices[deviceID] = c
	return copyDevice(c), nil
}

func (m *MemoryRepository) TouchDevice(_ context.Context, deviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if d, ok := m.devices[deviceID]; ok {
		now := time.Now().UTC()
		d.LastSeenAt = &now
	}
	return nil
}

// ---------------------------------------------------------------------------
// Instances

func (m *MemoryRepository) CreateInstance(_ context.Context, inst *models.Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.instances[inst.InstanceID]; ok {
		return ErrDuplicate
	}
	m.instances[inst.InstanceID] = copyInstance(inst)
	return nil
}

func (m *MemoryRepository) GetInstance(_ context.Context, instanceID string) (*models.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inst, ok := m.instances[instanceID]
	if !ok {
		return nil, nil
	}
	return copyInstance(inst), nil
}

func (m *MemoryRepository) ListInstances(_ context.Context, backendTypeID string) ([]*models.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.Instance
	for _, inst := range m.instances {
		if backendTypeID == "" || inst.BackendTypeID == backendTypeID {
			out = append(out, copyInstance(inst))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].InstanceID < out[j].InstanceID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryRepository) UpdateInstance(_ context.Context, instanceID string, fn InstanceMutation) (*models.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inst, ok := m.instances[instanceID]
	if !ok {
		return nil, ErrNotFound
	}
	c := copyInstance(inst)
	if err := fn(c); err != nil {
		return nil, err
	}
	m.instances[instanceID] = c
	return copyInstance(c), nil
}

func (m *MemoryRepository) DeleteInstance(_ context.Context, instanceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.instances[instanceID]; !ok {
		return ErrNotFound
	}

	for deviceID, list := range m.assignments {
		kept := list[:0]
		for _, a := range list {
			if a.InstanceID != instanceID {
				kept = append(kept, a)
			}
		}
		m.assignments[deviceID] = kept
	}
	for _, d := range m.devices {
		if d.ActiveInstanceID == instanceID {
			d.ActiveInstanceID = ""
			d.UpdatedAt = time.Now().UTC()
		}
	}
	for _, id := range m.frameOrder[instanceID] {
		if f, ok := m.frames[id]; ok {
			f.InstanceID = ""
		}
	}
	delete(m.frameOrder, instanceID)
	delete(m.instances, instanceID)
	return nil
}

// ---------------------------------------------------------------------------
// Backend types

func (m *MemoryRepository) CreateBackendType(_ context.Context, bt *models.BackendType) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.backendTypes[bt.TypeID]; ok {
		return ErrDuplicate
	}
	c := copyBackendType(bt)
	c.UpdatedAt = c.CreatedAt
	m.backendTypes[bt.TypeID] = c
	return nil
}

func (m *MemoryRepository) GetBackendType(_ context.Context, typeID string) (*models.BackendType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bt, ok := m.backendTypes[typeID]
	if !ok {
		return nil, nil
	}
	return copyBackendType(bt), nil
}

func (m *MemoryRepository) ListBackendTypes(_ context.Context, activeOnly bool) ([]*models.BackendType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.BackendType
	for _, bt := range m.backendTypes {
		if !activeOnly || bt.IsActive {
			out = append(out, copyBackendType(bt))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryRepository) UpdateBackendType(_ context.Context, typeID string, fn BackendTypeMutation) (*models.BackendType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bt, ok := m.backendTypes[typeID]
	if !ok {
		return nil, ErrNotFound
	}
	c := copyBackendType(bt)
	if err := fn(c); err != nil {
		return nil, err
	}
	c.UpdatedAt = time.Now().UTC()
	m.backendTypes[typeID] = c
	return copyBackendType(c), nil
}

func (m *MemoryRepository) DeleteBackendType(_ context.Context, typeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.backendTypes[typeID]; !ok {
		return ErrNotFound
	}
	for _, inst := range m.instances {
		if inst.BackendTypeID == typeID {
			return ErrInUse
		}
	}
	delete(m.backendTypes, typeID)
	return nil
}

// ---------------------------------------------------------------------------
// Assignments

func (m *MemoryRepository) AddAssignment(_ context.Context, a *models.Assignment) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.assignments[a.DeviceID] {
		if existing.InstanceID == a.InstanceID {
			return false, nil
		}
	}
	c := *a
	m.assignments[a.DeviceID] = append(m.assignments[a.DeviceID], &c)
	return true, nil
}

func (m *MemoryRepository) RemoveAssignment(_ context.Context, deviceID, instanceID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.assignments[deviceID]
	for i, a := range list {
		if a.InstanceID == instanceID {
			m.assignments[deviceID] = append(list[:i:i], list[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryRepository) ListAssignments(_ context.Context, deviceID string) ([]*models.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*models.Assignment, 0, len(m.assignments[deviceID]))
	for _, a := range m.assignments[deviceID] {
		c := *a
		out = append(out, &c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// ---------------------------------------------------------------------------
// Frames

func (m *MemoryRepository) latestLocked(instanceID string) *models.Frame {
	order := m.frameOrder[instanceID]
	if len(order) == 0 {
		return nil
	}
	return m.frames[order[len(order)-1]]
}

func (m *MemoryRepository) StoreFrame(_ context.Context, f *models.Frame, retain int) (*models.Frame, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := m.latestLocked(f.InstanceID)
	created := false
	if stored == nil || stored.Hash != f.Hash {
		stored = copyFrame(f)
		m.frames[f.FrameID] = stored
		m.frameOrder[f.InstanceID] = append(m.frameOrder[f.InstanceID], f.FrameID)
		created = true
	}

	now := time.Now().UTC()
	referenced := make(map[string]bool)
	for _, d := range m.devices {
		if d.ActiveInstanceID == f.InstanceID {
			d.CurrentFrameID = stored.FrameID
			d.UpdatedAt = now
		}
		if d.CurrentFrameID != "" {
			referenced[d.CurrentFrameID] = true
		}
	}

	if created && retain > 0 {
		order := m.frameOrder[f.InstanceID]
		cut := len(order) - retain
		kept := make([]string, 0, len(order))
		for i, id := range order {
			if i < cut && !referenced[id] {
				delete(m.frames, id)
				continue
			}
			kept = append(kept, id)
		}
		m.frameOrder[f.InstanceID] = kept
	}

	return copyFrame(stored), created, nil
}

func (m *MemoryRepository) GetFrame(_ context.Context, frameID string) (*models.Frame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.frames[frameID]
	if !ok {
		return nil, nil
	}
	return copyFrame(f), nil
}

func (m *MemoryRepository) LatestFrame(_ context.Context, instanceID string) (*models.Frame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f := m.latestLocked(instanceID)
	if f == nil {
		return nil, nil
	}
	return copyFrame(f), nil
}

func (m *MemoryRepository) FindFrameByHash(_ context.Context, instanceID, hash string) (*models.Frame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order := m.frameOrder[instanceID]
	for i := len(order) - 1; i >= 0; i-- {
		if f := m.frames[order[i]]; f != nil && f.Hash == hash {
			return copyFrame(f), nil
		}
	}
	return nil, nil
}

// ---------------------------------------------------------------------------
// Audit and stats

func (m *MemoryRepository) RecordInput(_ context.Context, rec *models.InputRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := *rec
	c.ID = int64(len(m.inputs) + 1)
	rec.ID = c.ID
	m.inputs = append(m.inputs, &c)
	return nil
}

// Inputs returns the recorded input audit rows, oldest first.
func (m *MemoryRepository) Inputs() []models.InputRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.InputRecord, len(m.inputs))
	for i, rec := range m.inputs {
		out[i] = *rec
	}
	return out
}

func (m *MemoryRepository) Stats(_ context.Context) (*models.SystemStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := &models.SystemStats{
		Devices:   len(m.devices),
		Instances: len(m.instances),
	}
	for _, d := range m.devices {
		if d.AuthStatus == models.AuthPending {
			s.PendingDevices++
		}
	}
	for _, inst := range m.instances {
		if inst.Ready {
			s.ReadyInstances++
		}
		if !inst.Initialized {
			s.PendingInitialization++
		}
		if inst.NeedsConfiguration {
			s.NeedsConfiguration++
		}
	}
	for _, bt := range m.backendTypes {
		if bt.IsActive {
			s.BackendTypes++
		}
	}
	return s, nil
}

var (
	_ Repository = (*MemoryRepository)(nil)
	_ Repository = (*PostgresRepository)(nil)
)

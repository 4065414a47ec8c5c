package model

import mapset "github.com/deckarep/golang-set/v2"

// Store is the arena of devices and entities for one broker. Relations
// are index references (Entity.DeviceIndex, Device.Children), never
// owning pointers, per the cyclic-reference design note in spec.md §9.
type Store struct {
	devices  map[int]*Device
	entities map[DiscoveryHash]*Entity
	nextIdx  int
}

// NewStore creates an empty arena.
func NewStore() *Store {
	return &Store{
		devices:  make(map[int]*Device),
		entities: make(map[DiscoveryHash]*Entity),
	}
}

// Entity looks up an entity by its fingerprint.
func (s *Store) Entity(hash DiscoveryHash) (*Entity, bool) {
	e, ok := s.entities[hash]
	return e, ok
}

// PutEntity inserts or replaces an entity in the arena.
func (s *Store) PutEntity(e *Entity) {
	s.entities[e.Hash] = e
}

// DeleteEntity removes an entity and detaches it from any owning device,
// pruning the device if it becomes childless (spec.md §3 Lifecycle).
func (s *Store) DeleteEntity(hash DiscoveryHash) {
	e, ok := s.entities[hash]
	if !ok {
		return
	}
	if e.DeviceIndex != NoDevice {
		if dev, ok := s.devices[e.DeviceIndex]; ok {
			dev.Children.Remove(hash)
			if dev.Children.Cardinality() == 0 {
				delete(s.devices, dev.Index)
			}
		}
	}
	delete(s.entities, hash)
}

// Device looks up a device by its arena index.
func (s *Store) Device(index int) (*Device, bool) {
	d, ok := s.devices[index]
	return d, ok
}

// FindDeviceMatch searches the device set for one matching the given
// candidate identifiers/connections (spec.md §4.5 step 2).
func (s *Store) FindDeviceMatch(identifiers mapset.Set[Identifier], connections mapset.Set[Connection]) (*Device, bool) {
	for _, d := range s.devices {
		if d.Matches(identifiers, connections) {
			return d, true
		}
	}
	return nil, false
}

// FindByIdentifiers searches for a device whose identifiers set equals
// the given non-empty set.
func (s *Store) FindByIdentifiers(identifiers mapset.Set[Identifier]) (*Device, bool) {
	if identifiers == nil || identifiers.Cardinality() == 0 {
		return nil, false
	}
	for _, d := range s.devices {
		if d.Identifiers.Equal(identifiers) {
			return d, true
		}
	}
	return nil, false
}

// FindByConnections searches for a device whose connections set equals
// the given non-empty set.
func (s *Store) FindByConnections(connections mapset.Set[Connection]) (*Device, bool) {
	if connections == nil || connections.Cardinality() == 0 {
		return nil, false
	}
	for _, d := range s.devices {
		if d.Connections.Equal(connections) {
			return d, true
		}
	}
	return nil, false
}

// CreateDevice allocates a new device with the given identity sets.
func (s *Store) CreateDevice(identifiers mapset.Set[Identifier], connections mapset.Set[Connection]) *Device {
	idx := s.nextIdx
	s.nextIdx++
	d := newDevice(idx)
	d.Identifiers = identifiers
	d.Connections = connections
	s.devices[idx] = d
	return d
}

// AttachEntity attaches an entity to a device, recording the relation on
// both sides (spec.md §3 invariant 2).
func (s *Store) AttachEntity(e *Entity, d *Device) {
	e.DeviceIndex = d.Index
	d.Children.Add(e.Hash)
}

// DetachEntity removes an entity from its current device (if any),
// pruning the device when it becomes childless. The entity itself
// becomes an orphan (spec.md §3 invariant 2: ownership may change).
func (s *Store) DetachEntity(e *Entity) {
	if e.DeviceIndex == NoDevice {
		return
	}
	if dev, ok := s.devices[e.DeviceIndex]; ok {
		dev.Children.Remove(e.Hash)
		if dev.Children.Cardinality() == 0 {
			delete(s.devices, dev.Index)
		}
	}
	e.DeviceIndex = NoDevice
}

// MoveEntity detaches e from its current device (if any) and attaches it
// to newDevice, implementing the "entity MOVED" tie-break in spec.md §4.5.
func (s *Store) MoveEntity(e *Entity, newDevice *Device) {
	s.DetachEntity(e)
	s.AttachEntity(e, newDevice)
}

// DeviceEntities returns the live entities attached to a device.
func (s *Store) DeviceEntities(d *Device) []*Entity {
	out := make([]*Entity, 0, d.Children.Cardinality())
	for _, h := range d.Children.ToSlice() {
		if e, ok := s.entities[h]; ok {
			out = append(out, e)
		}
	}
	return out
}

// Entities returns every live entity, for diagnostics and tests.
func (s *Store) Entities() []*Entity {
	out := make([]*Entity, 0, len(s.entities))
	for _, e := range s.entities {
		out = append(out, e)
	}
	return out
}

// Devices returns every live device, for diagnostics and tests.
func (s *Store) Devices() []*Device {
	out := make([]*Device, 0, len(s.devices))
	for _, d := range s.devices {
		out = append(out, d)
	}
	return out
}

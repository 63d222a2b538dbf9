package ledger

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"freight-auction-system/models"
)

var (
	// ErrNotFound is returned when a referenced id does not exist.
	ErrNotFound = errors.New("ledger: not found")
	// ErrConflict is returned when a compare-and-swap transition loses a
	// race: the stored status no longer equals the expected one.
	ErrConflict = errors.New("ledger: status conflict")
	// ErrInvalidTransition is returned when the requested edge is not
	// part of the shipment state machine at all.
	ErrInvalidTransition = errors.New("ledger: invalid transition")
)

// allowedTransitions is the shipment state machine. Terminal statuses
// have no outgoing edges.
var allowedTransitions = map[models.ShipmentStatus][]models.ShipmentStatus{
	models.ShipmentDraft:     {models.ShipmentOpen},
	models.ShipmentOpen:      {models.ShipmentBidding, models.ShipmentCancelled},
	models.ShipmentBidding:   {models.ShipmentMatched, models.ShipmentOpen, models.ShipmentCancelled},
	models.ShipmentMatched:   {models.ShipmentInTransit, models.ShipmentBidding},
	models.ShipmentInTransit: {models.ShipmentDelivered, models.ShipmentFailed},
}

func transitionAllowed(from, to models.ShipmentStatus) bool {
	for _, t := range allowedTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

type shipmentEntry struct {
	mu       sync.Mutex
	shipment models.Shipment
	events   []models.ShipmentEvent
}

type driverEntry struct {
	mu      sync.Mutex
	profile models.DriverProfile
}

// Ledger is the authoritative in-memory store of shipments and driver
// profiles. Each record carries its own lock so that congestion on one
// shipment never stalls another. An optional Journal persists records
// and events to Postgres as a write-behind.
type Ledger struct {
	mu        sync.RWMutex
	shipments map[string]*shipmentEntry
	drivers   map[string]*driverEntry
	journal   *Journal
}

func New(journal *Journal) *Ledger {
	return &Ledger{
		shipments: make(map[string]*shipmentEntry),
		drivers:   make(map[string]*driverEntry),
		journal:   journal,
	}
}

// CreateShipment stores a new shipment in Draft and returns it with id
// and creation time assigned.
func (l *Ledger) CreateShipment(s models.Shipment) (models.Shipment, error) {
	if s.ShipperID == "" {
		return models.Shipment{}, fmt.Errorf("%w: shipper id required", ErrInvalidTransition)
	}
	s.ID = uuid.NewString()
	s.Status = models.ShipmentDraft
	s.CreatedAt = time.Now().UTC()

	l.mu.Lock()
	l.shipments[s.ID] = &shipmentEntry{shipment: s}
	l.mu.Unlock()

	l.journal.ShipmentSaved(s)
	return s, nil
}

func (l *Ledger) shipmentEntry(id string) (*shipmentEntry, error) {
	l.mu.RLock()
	e, ok := l.shipments[id]
	l.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return e, nil
}

// GetShipment returns a snapshot of the shipment.
func (l *Ledger) GetShipment(id string) (models.Shipment, error) {
	e, err := l.shipmentEntry(id)
	if err != nil {
		return models.Shipment{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.shipment, nil
}

// Transition performs a compare-and-swap on the shipment status: it
// fails with ErrConflict unless the stored status equals from at the
// moment of the attempt. Every success appends an immutable event.
func (l *Ledger) Transition(id string, from, to models.ShipmentStatus, note string) error {
	if !transitionAllowed(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	e, err := l.shipmentEntry(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.shipment.Status != from {
		return fmt.Errorf("%w: shipment %s is %s, expected %s", ErrConflict, id, e.shipment.Status, from)
	}
	e.shipment.Status = to
	ev := models.ShipmentEvent{
		ShipmentID: id,
		From:       from,
		To:         to,
		Note:       note,
		At:         time.Now().UTC(),
	}
	e.events = append(e.events, ev)

	l.journal.ShipmentSaved(e.shipment)
	l.journal.EventAppended(ev)
	return nil
}

// Events returns the transition history of a shipment, oldest first.
func (l *Ledger) Events(id string) ([]models.ShipmentEvent, error) {
	e, err := l.shipmentEntry(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.ShipmentEvent, len(e.events))
	copy(out, e.events)
	return out, nil
}

// ListShipments returns snapshots of all shipments in any of the given
// statuses (all shipments when none given), newest first.
func (l *Ledger) ListShipments(statuses ...models.ShipmentStatus) []models.Shipment {
	l.mu.RLock()
	entries := make([]*shipmentEntry, 0, len(l.shipments))
	for _, e := range l.shipments {
		entries = append(entries, e)
	}
	l.mu.RUnlock()

	var out []models.Shipment
	for _, e := range entries {
		e.mu.Lock()
		s := e.shipment
		e.mu.Unlock()
		if len(statuses) == 0 {
			out = append(out, s)
			continue
		}
		for _, st := range statuses {
			if s.Status == st {
				out = append(out, s)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// CreateDriver registers a driver profile. A zero score is replaced by
// the caller-provided default before registration, not here; the ledger
// stores what it is given.
func (l *Ledger) CreateDriver(p models.DriverProfile) (models.DriverProfile, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}

	l.mu.Lock()
	if _, ok := l.drivers[p.ID]; ok {
		l.mu.Unlock()
		return models.DriverProfile{}, fmt.Errorf("%w: driver %s exists", ErrConflict, p.ID)
	}
	l.drivers[p.ID] = &driverEntry{profile: p}
	l.mu.Unlock()

	l.journal.DriverSaved(p)
	return p, nil
}

// GetDriver returns a snapshot of the driver profile.
func (l *Ledger) GetDriver(id string) (models.DriverProfile, error) {
	l.mu.RLock()
	e, ok := l.drivers[id]
	l.mu.RUnlock()
	if !ok {
		return models.DriverProfile{}, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.profile, nil
}

// UpdateDriver applies fn to the profile under the driver's own lock.
// Concurrent updates for the same driver serialize here; different
// drivers never contend.
func (l *Ledger) UpdateDriver(id string, fn func(*models.DriverProfile)) (models.DriverProfile, error) {
	l.mu.RLock()
	e, ok := l.drivers[id]
	l.mu.RUnlock()
	if !ok {
		return models.DriverProfile{}, ErrNotFound
	}
	e.mu.Lock()
	fn(&e.profile)
	p := e.profile
	e.mu.Unlock()

	l.journal.DriverSaved(p)
	return p, nil
}

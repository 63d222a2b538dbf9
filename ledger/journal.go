package ledger

import (
	"database/sql"
	"log"

	"freight-auction-system/models"
)

// Journal persists records and transition events to Postgres behind a
// buffered channel, so that a slow or unavailable database never blocks
// an auction. A nil *Journal is valid and drops everything, which is
// how the tests run.
type Journal struct {
	db   *sql.DB
	ch   chan func(*sql.DB)
	done chan struct{}
}

func NewJournal(db *sql.DB) *Journal {
	j := &Journal{
		db:   db,
		ch:   make(chan func(*sql.DB), 256),
		done: make(chan struct{}),
	}
	go j.drain()
	return j
}

func (j *Journal) drain() {
	for op := range j.ch {
		op(j.db)
	}
	close(j.done)
}

// Close flushes pending writes and stops the drain goroutine.
func (j *Journal) Close() {
	if j == nil {
		return
	}
	close(j.ch)
	<-j.done
}

func (j *Journal) enqueue(op func(*sql.DB)) {
	if j == nil {
		return
	}
	select {
	case j.ch <- op:
	default:
		// Journal is best-effort durability; never stall the core.
		log.Println("journal: buffer full, dropping write")
	}
}

func (j *Journal) ShipmentSaved(s models.Shipment) {
	j.enqueue(func(db *sql.DB) {
		_, err := db.Exec(
			`INSERT INTO shipments (id, shipper_id, origin_lat, origin_lon, dest_lat, dest_lon,
			                        cargo_description, cargo_weight_kg, cargo_type,
			                        pickup_after, deliver_by, reserve_price, cancel_on_empty, status, created_at)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
			 ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status`,
			s.ID, s.ShipperID, s.Origin.Latitude, s.Origin.Longitude,
			s.Destination.Latitude, s.Destination.Longitude,
			s.Cargo.Description, s.Cargo.WeightKg, s.Cargo.Type,
			s.PickupAfter, s.DeliverBy, s.ReservePrice, s.CancelOnEmpty, s.Status.String(), s.CreatedAt,
		)
		if err != nil {
			log.Printf("journal: shipment %s: %v", s.ID, err)
		}
	})
}

func (j *Journal) EventAppended(e models.ShipmentEvent) {
	j.enqueue(func(db *sql.DB) {
		_, err := db.Exec(
			`INSERT INTO shipment_events (shipment_id, from_status, to_status, note, at)
			 VALUES ($1,$2,$3,$4,$5)`,
			e.ShipmentID, e.From.String(), e.To.String(), e.Note, e.At,
		)
		if err != nil {
			log.Printf("journal: event for %s: %v", e.ShipmentID, err)
		}
	})
}

func (j *Journal) BidSaved(b models.Bid) {
	j.enqueue(func(db *sql.DB) {
		_, err := db.Exec(
			`INSERT INTO bids (id, shipment_id, driver_id, price, eta_seconds, latitude, longitude, status, submitted_at)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			 ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status`,
			b.ID, b.ShipmentID, b.DriverID, b.Price, int64(b.ETAToOrigin.Seconds()),
			b.Location.Latitude, b.Location.Longitude, b.Status.String(), b.SubmittedAt,
		)
		if err != nil {
			log.Printf("journal: bid %s: %v", b.ID, err)
		}
	})
}

func (j *Journal) MatchSaved(m models.Match) {
	j.enqueue(func(db *sql.DB) {
		_, err := db.Exec(
			`INSERT INTO matches (shipment_id, bid_id, driver_id, price, execution_status, committed_at)
			 VALUES ($1,$2,$3,$4,$5,$6)
			 ON CONFLICT (shipment_id, bid_id) DO UPDATE SET execution_status = EXCLUDED.execution_status`,
			m.ShipmentID, m.BidID, m.DriverID, m.Price, m.ExecutionStatus.String(), m.CommittedAt,
		)
		if err != nil {
			log.Printf("journal: match for %s: %v", m.ShipmentID, err)
		}
	})
}

func (j *Journal) DriverSaved(p models.DriverProfile) {
	j.enqueue(func(db *sql.DB) {
		_, err := db.Exec(
			`INSERT INTO drivers (id, name, score, completed_jobs, cancellations, latitude, longitude, geohash, available)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			 ON CONFLICT (id) DO UPDATE SET
			   score = EXCLUDED.score,
			   completed_jobs = EXCLUDED.completed_jobs,
			   cancellations = EXCLUDED.cancellations,
			   latitude = EXCLUDED.latitude,
			   longitude = EXCLUDED.longitude,
			   geohash = EXCLUDED.geohash,
			   available = EXCLUDED.available`,
			p.ID, p.Name, p.Score, p.CompletedJobs, p.Cancellations,
			p.Location.Latitude, p.Location.Longitude, p.Geohash, p.Available,
		)
		if err != nil {
			log.Printf("journal: driver %s: %v", p.ID, err)
		}
	})
}

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"freight-auction-system/auction"
	"freight-auction-system/cache"
	"freight-auction-system/dispatch"
	"freight-auction-system/geo"
	"freight-auction-system/ledger"
	"freight-auction-system/models"
	"freight-auction-system/reputation"
)

type API struct {
	Ledger      *ledger.Ledger
	Coordinator *auction.Coordinator
	Tracker     *dispatch.Tracker
	Reputation  *reputation.Scorer
	Index       *geo.ShipmentIndex
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	var ve *auction.ValidationError
	switch {
	case errors.As(err, &ve):
		http.Error(w, ve.Error(), http.StatusBadRequest)
	case errors.Is(err, ledger.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, auction.ErrAuctionClosed),
		errors.Is(err, auction.ErrDuplicateBid),
		errors.Is(err, auction.ErrAlreadyCommitted),
		errors.Is(err, ledger.ErrConflict),
		errors.Is(err, dispatch.ErrBadExecutionState):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, auction.ErrNoAuction),
		errors.Is(err, ledger.ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// PostShipment creates a shipment, lists it, and (by default) opens
// bidding immediately.
func (a *API) PostShipment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ShipperID            string          `json:"shipper_id"`
		Origin               models.Location `json:"origin"`
		Destination          models.Location `json:"destination"`
		Cargo                models.Cargo    `json:"cargo"`
		PickupAfter          time.Time       `json:"pickup_after"`
		DeliverBy            time.Time       `json:"deliver_by"`
		ReservePrice         float64         `json:"reserve_price"`
		CancelOnEmpty        bool            `json:"cancel_on_empty"`
		BiddingWindowMinutes float64         `json:"bidding_window_minutes"`
		OpenNow              *bool           `json:"open_now"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	if req.ShipperID == "" {
		http.Error(w, "shipper_id is required", http.StatusBadRequest)
		return
	}

	s, err := a.Ledger.CreateShipment(models.Shipment{
		ShipperID:     req.ShipperID,
		Origin:        req.Origin,
		Destination:   req.Destination,
		Cargo:         req.Cargo,
		PickupAfter:   req.PickupAfter,
		DeliverBy:     req.DeliverBy,
		ReservePrice:  req.ReservePrice,
		CancelOnEmpty: req.CancelOnEmpty,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if err := a.Ledger.Transition(s.ID, models.ShipmentDraft, models.ShipmentOpen, "posted"); err != nil {
		writeError(w, err)
		return
	}
	// Open shipments count as backhaul chains even before their auction
	// starts; opening the auction re-inserts the same entry.
	a.Index.Insert(s.ID, s.Origin)

	openNow := req.OpenNow == nil || *req.OpenNow
	var window *models.AuctionWindow
	if openNow {
		win, err := a.Coordinator.Open(s.ID, time.Duration(req.BiddingWindowMinutes*float64(time.Minute)))
		if err != nil {
			writeError(w, err)
			return
		}
		window = &win
	}

	s, _ = a.Ledger.GetShipment(s.ID)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"shipment": s,
		"window":   window,
	})
}

// ListShipments returns shipments, optionally filtered by status.
func (a *API) ListShipments(w http.ResponseWriter, r *http.Request) {
	var statuses []models.ShipmentStatus
	if q := r.URL.Query().Get("status"); q != "" {
		st := models.ShipmentStatus(q)
		if !st.IsValid() {
			http.Error(w, "invalid status", http.StatusBadRequest)
			return
		}
		statuses = append(statuses, st)
	}
	writeJSON(w, http.StatusOK, a.Ledger.ListShipments(statuses...))
}

// GetShipment returns a shipment with its current bids and match.
func (a *API) GetShipment(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["shipment_id"]
	s, err := a.Ledger.GetShipment(id)
	if err != nil {
		writeError(w, err)
		return
	}
	bids := a.Coordinator.Bids(id)
	resp := map[string]interface{}{
		"shipment":  s,
		"bids":      bids,
		"bid_count": len(bids),
	}
	if win, ok := a.Coordinator.Window(id); ok {
		resp["window"] = win
	}
	if m, ok := a.Coordinator.Match(id); ok {
		resp["match"] = m
	}
	writeJSON(w, http.StatusOK, resp)
}

// NearbyDrivers returns available drivers cached around the shipment's
// origin, for shippers sizing up the likely bidder pool.
func (a *API) NearbyDrivers(w http.ResponseWriter, r *http.Request) {
	s, err := a.Ledger.GetShipment(mux.Vars(r)["shipment_id"])
	if err != nil {
		writeError(w, err)
		return
	}
	hash := geo.Encode(s.Origin, 5)
	drivers := cache.AvailableDriversNear(r.Context(), hash, geo.Neighbors(hash))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"drivers": drivers,
		"count":   len(drivers),
	})
}

// GetShipmentEvents returns the shipment's transition history.
func (a *API) GetShipmentEvents(w http.ResponseWriter, r *http.Request) {
	events, err := a.Ledger.Events(mux.Vars(r)["shipment_id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// OpenAuction opens bidding on a posted shipment.
func (a *API) OpenAuction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WindowMinutes float64 `json:"window_minutes"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}
	win, err := a.Coordinator.Open(mux.Vars(r)["shipment_id"],
		time.Duration(req.WindowMinutes*float64(time.Minute)))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, win)
}

// CloseAuction force-closes the bidding window. Racing the expiry
// timer is fine; both land on the same idempotent close.
func (a *API) CloseAuction(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["shipment_id"]
	m, err := a.Coordinator.Close(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if m == nil {
		s, _ := a.Ledger.GetShipment(id)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"match":    nil,
			"shipment": s,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"match": m})
}

// CancelShipment cancels a shipment at the shipper's request.
func (a *API) CancelShipment(w http.ResponseWriter, r *http.Request) {
	if err := a.Coordinator.Cancel(mux.Vars(r)["shipment_id"]); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Shipment cancelled"})
}

// SubmitBid places a driver's bid on an open auction.
func (a *API) SubmitBid(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ShipmentID string          `json:"shipment_id"`
		DriverID   string          `json:"driver_id"`
		Price      float64         `json:"price"`
		ETAMinutes float64         `json:"eta_minutes"`
		Location   models.Location `json:"location"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	bid, err := a.Coordinator.Submit(req.ShipmentID, req.DriverID, req.Price,
		time.Duration(req.ETAMinutes*float64(time.Minute)), req.Location)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, bid)
}

// WithdrawBid retracts an active bid before the window closes.
func (a *API) WithdrawBid(w http.ResponseWriter, r *http.Request) {
	if err := a.Coordinator.Withdraw(mux.Vars(r)["bid_id"]); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Bid withdrawn"})
}

// ListDriverBids returns a driver's bids across current auctions.
func (a *API) ListDriverBids(w http.ResponseWriter, r *http.Request) {
	driverID := r.URL.Query().Get("driver_id")
	if driverID == "" {
		http.Error(w, "driver_id is required", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, a.Coordinator.DriverBids(driverID))
}

// CreateDriver registers a driver profile at the neutral reputation.
func (a *API) CreateDriver(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string          `json:"name"`
		Location models.Location `json:"location"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	p := models.DriverProfile{
		Name:      req.Name,
		Score:     a.Reputation.NeutralScore(),
		Location:  req.Location,
		Available: true,
	}
	if req.Location.Latitude != 0 || req.Location.Longitude != 0 {
		p.Geohash = geo.Encode(req.Location, 5)
	}
	p, err := a.Ledger.CreateDriver(p)
	if err != nil {
		writeError(w, err)
		return
	}
	cache.StoreAvailableDriver(r.Context(), p)
	writeJSON(w, http.StatusCreated, p)
}

// GetDriver returns the driver profile with its normalized trust score.
func (a *API) GetDriver(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["driver_id"]
	p, err := a.Ledger.GetDriver(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"driver":      p,
		"trust_score": a.Reputation.Score(id),
	})
}

// UpdateDriverLocation moves the driver between geohash cells in the
// availability cache and updates the stored profile.
func (a *API) UpdateDriverLocation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["driver_id"]
	var req struct {
		Location  models.Location `json:"location"`
		Available *bool           `json:"available"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}

	old, err := a.Ledger.GetDriver(id)
	if err != nil {
		writeError(w, err)
		return
	}
	updated, err := a.Ledger.UpdateDriver(id, func(p *models.DriverProfile) {
		p.Location = req.Location
		p.Geohash = geo.Encode(req.Location, 5)
		if req.Available != nil {
			p.Available = *req.Available
		}
	})
	if err != nil {
		writeError(w, err)
		return
	}

	cache.RemoveAvailableDriver(r.Context(), old)
	if updated.Available {
		cache.StoreAvailableDriver(r.Context(), updated)
	}
	writeJSON(w, http.StatusOK, updated)
}

// ReportPickup records that the winning driver collected the load.
func (a *API) ReportPickup(w http.ResponseWriter, r *http.Request) {
	m, err := a.Tracker.ReportPickup(mux.Vars(r)["shipment_id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// ReportDeparture records that the loaded truck is under way.
func (a *API) ReportDeparture(w http.ResponseWriter, r *http.Request) {
	m, err := a.Tracker.ReportDeparture(mux.Vars(r)["shipment_id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// ReportDelivery completes the job and updates the driver's record.
func (a *API) ReportDelivery(w http.ResponseWriter, r *http.Request) {
	m, err := a.Tracker.ReportDelivery(mux.Vars(r)["shipment_id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// ReportFailure records an irrecoverable post-pickup failure.
func (a *API) ReportFailure(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Reason == "" {
		req.Reason = "driver reported inability to fulfill"
	}
	m, err := a.Tracker.ReportFailure(mux.Vars(r)["shipment_id"], req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// CancelAssignment handles a matched driver backing out before pickup:
// the shipment goes straight back to auction.
func (a *API) CancelAssignment(w http.ResponseWriter, r *http.Request) {
	win, err := a.Tracker.CancelAssignment(mux.Vars(r)["shipment_id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Assignment cancelled, shipment re-auctioned",
		"window":  win,
	})
}

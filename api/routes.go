package api

import (
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
)

func (a *API) RegisterRoutes() http.Handler {
	router := mux.NewRouter()

	// Shipper endpoints
	router.HandleFunc("/shipments", a.PostShipment).Methods("POST")
	router.HandleFunc("/shipments", a.ListShipments).Methods("GET")
	router.HandleFunc("/shipments/{shipment_id}", a.GetShipment).Methods("GET")
	router.HandleFunc("/shipments/{shipment_id}/events", a.GetShipmentEvents).Methods("GET")
	router.HandleFunc("/shipments/{shipment_id}/nearby-drivers", a.NearbyDrivers).Methods("GET")
	router.HandleFunc("/shipments/{shipment_id}/open", a.OpenAuction).Methods("POST")
	router.HandleFunc("/shipments/{shipment_id}/close", a.CloseAuction).Methods("POST")
	router.HandleFunc("/shipments/{shipment_id}/cancel", a.CancelShipment).Methods("POST")

	// Driver bidding endpoints
	router.HandleFunc("/bids", a.SubmitBid).Methods("POST")
	router.HandleFunc("/bids", a.ListDriverBids).Methods("GET")
	router.HandleFunc("/bids/{bid_id}", a.WithdrawBid).Methods("DELETE")

	// Driver profile endpoints
	router.HandleFunc("/drivers", a.CreateDriver).Methods("POST")
	router.HandleFunc("/drivers/{driver_id}", a.GetDriver).Methods("GET")
	router.HandleFunc("/drivers/{driver_id}/location", a.UpdateDriverLocation).Methods("PUT")

	// Execution reporting endpoints
	router.HandleFunc("/shipments/{shipment_id}/pickup", a.ReportPickup).Methods("POST")
	router.HandleFunc("/shipments/{shipment_id}/depart", a.ReportDeparture).Methods("POST")
	router.HandleFunc("/shipments/{shipment_id}/deliver", a.ReportDelivery).Methods("POST")
	router.HandleFunc("/shipments/{shipment_id}/fail", a.ReportFailure).Methods("POST")
	router.HandleFunc("/shipments/{shipment_id}/cancel-assignment", a.CancelAssignment).Methods("POST")

	// Add CORS support
	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)

	return cors(router)
}

package models

type DriverProfile struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Score         float64  `json:"score"` // bounded 0-100
	CompletedJobs int      `json:"completed_jobs"`
	Cancellations int      `json:"cancellations"`
	Location      Location `json:"location"`
	Geohash       string   `json:"geohash"`
	Available     bool     `json:"available"`
}

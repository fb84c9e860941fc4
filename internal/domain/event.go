package domain

import "time"

// Event is an organization event a mass mail may reference.
type Event struct {
	ID               int32     `json:"id"`
	Title            string    `json:"title"`
	StartTime        time.Time `json:"start_time"`
	Location         string    `json:"location"`
	RegistrationLink string    `json:"registration_link"`
}

package models

import "time"

// SeatReservation holds one seat. The document existing is the reservation.
type SeatReservation struct {
	ID             string
	Row            int
	Number         int
	ReservedBy     string
	ReservedByName string
	Timestamp      time.Time
}

package codec

import (
	"fmt"

	"github.com/dmitrijs2005/kehilla/internal/docstore"
	"github.com/dmitrijs2005/kehilla/internal/models"
)

// SeatID is the deterministic identity of a seat, e.g. "R3-2".
func SeatID(row, number int) string {
	return fmt.Sprintf("R%d-%d", row, number)
}

// ParseSeatID reverses SeatID.
func ParseSeatID(id string) (row, number int, ok bool) {
	if _, err := fmt.Sscanf(id, "R%d-%d", &row, &number); err != nil {
		return 0, 0, false
	}
	return row, number, SeatID(row, number) == id
}

// DecodeSeat takes row and number from the document, falling back to the
// id for documents that only carry the reservation holder.
func DecodeSeat(id string, f docstore.Fields) (models.SeatReservation, error) {
	r := newReader(f)
	s := models.SeatReservation{
		ID:             id,
		ReservedBy:     r.requiredString("reservedBy"),
		ReservedByName: r.optionalString("reservedByName", ""),
	}
	s.Timestamp, _ = r.optionalTime("timestamp")

	row, number, _ := ParseSeatID(id)
	s.Row = r.optionalInt("row", row)
	s.Number = r.optionalInt("number", number)
	if r.err != nil {
		return models.SeatReservation{}, r.err
	}
	if s.Row <= 0 || s.Number <= 0 {
		return models.SeatReservation{}, &FieldError{Field: "row", Reason: "seat position unknown"}
	}
	return s, nil
}

func EncodeSeat(s models.SeatReservation) docstore.Fields {
	return docstore.Fields{
		"row":            s.Row,
		"number":         s.Number,
		"reservedBy":     s.ReservedBy,
		"reservedByName": s.ReservedByName,
		"timestamp":      s.Timestamp,
	}
}

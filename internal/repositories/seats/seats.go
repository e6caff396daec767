// Package seats reserves sanctuary seats. A seat's document id is derived
// from its position, so reserving is a create at that id and cancelling is
// a conditional delete.
package seats

import (
	"context"
	"sort"

	"github.com/dmitrijs2005/kehilla/internal/codec"
	"github.com/dmitrijs2005/kehilla/internal/common"
	"github.com/dmitrijs2005/kehilla/internal/docstore"
	"github.com/dmitrijs2005/kehilla/internal/feed"
	"github.com/dmitrijs2005/kehilla/internal/models"
	"github.com/dmitrijs2005/kehilla/internal/repositories"
)

const (
	Collection = "seatReservations"
	FeedName   = "seats"
)

type Repository struct {
	d      repositories.Deps
	admins repositories.Authorizer
}

func New(d repositories.Deps, admins repositories.Authorizer) *Repository {
	return &Repository{d: d.WithDefaults(), admins: admins}
}

// SeatID is the identity of seat number in row, e.g. "R3-2".
func SeatID(row, number int) string {
	return codec.SeatID(row, number)
}

func ref(row, number int) docstore.DocRef {
	return docstore.DocRef{Collection: Collection, ID: SeatID(row, number)}
}

func spec() feed.Spec[models.SeatReservation] {
	return feed.Spec[models.SeatReservation]{
		Name:    FeedName,
		Query:   docstore.Query{Collection: Collection},
		Decode:  codec.DecodeSeat,
		Arrange: Arrange,
	}
}

// Arrange orders by row, then seat number.
func Arrange(items []models.SeatReservation) []models.SeatReservation {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Row != items[j].Row {
			return items[i].Row < items[j].Row
		}
		return items[i].Number < items[j].Number
	})
	return items
}

func validPosition(row, number int) error {
	if row <= 0 || number <= 0 {
		return common.ErrInvalidInput.WithMessage("seat R%d-%d does not exist", row, number)
	}
	return nil
}

// Reserve holds the seat for actor. Of several members reserving the same
// seat at once exactly one succeeds; the others get ErrAlreadyReserved.
func (r *Repository) Reserve(ctx context.Context, actor repositories.Actor, row, number int) (models.SeatReservation, error) {
	if err := validPosition(row, number); err != nil {
		return models.SeatReservation{}, err
	}
	s := models.SeatReservation{
		ID:             SeatID(row, number),
		Row:            row,
		Number:         number,
		ReservedBy:     codec.NormalizeEmail(actor.Email),
		ReservedByName: actor.Name,
		Timestamp:      r.d.Now(),
	}
	conflict := common.ErrAlreadyReserved.WithMessage("seat %s is already reserved", s.ID)
	if err := r.d.Txn.ClaimIdentity(ctx, "reserve_seat", ref(row, number), codec.EncodeSeat(s), conflict); err != nil {
		return models.SeatReservation{}, err
	}
	return s, nil
}

// Cancel frees the seat. Only the holder or an admin may.
func (r *Repository) Cancel(ctx context.Context, actor repositories.Actor, row, number int) error {
	if err := validPosition(row, number); err != nil {
		return err
	}
	check, err := repositories.OwnerOrAdmin(ctx, r.admins, actor, repositories.StringField("reservedBy"))
	if err != nil {
		return err
	}
	return r.d.Txn.DeleteIf(ctx, "cancel_seat", ref(row, number), check)
}

func (r *Repository) FetchOnce(ctx context.Context) ([]models.SeatReservation, error) {
	return repositories.Fetch(ctx, r.d, spec(), r.d.State.Seats)
}

func (r *Repository) Subscribe(ctx context.Context, screen string) error {
	return repositories.Watch(ctx, r.d, feed.Key{Feed: FeedName, Screen: screen}, spec(), r.d.State.Seats)
}

func (r *Repository) Stop(screen string) {
	r.d.Registry.Stop(feed.Key{Feed: FeedName, Screen: screen})
}

// ReservedBy lists the mirrored seats held by email.
func (r *Repository) ReservedBy(email string) []models.SeatReservation {
	email = codec.NormalizeEmail(email)
	var out []models.SeatReservation
	for _, s := range r.d.State.Seats.Items() {
		if codec.NormalizeEmail(s.ReservedBy) == email {
			out = append(out, s)
		}
	}
	return out
}

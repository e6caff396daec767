package mirror

import "github.com/dmitrijs2005/kehilla/internal/models"

// State groups the mirrored collections of every entity family. One State is
// built per signed-in session and injected into the repositories.
type State struct {
	Auctions     *Collection[models.AuctionItem]
	Sponsorships *Collection[models.KiddushSponsorship]
	Occasions    *Collection[models.CommunityOccasion]
	Seats        *Collection[models.SeatReservation]
	Posts        *Keyed[models.SocialPost]
	Threads      *Collection[models.ChatThread]
	Messages     *Keyed[models.ChatMessage]
	Users        *Collection[models.UserProfile]
	Profile      *Collection[models.UserProfile]
}

func New() *State {
	return &State{
		Auctions:     NewCollection[models.AuctionItem](),
		Sponsorships: NewCollection[models.KiddushSponsorship](),
		Occasions:    NewCollection[models.CommunityOccasion](),
		Seats:        NewCollection[models.SeatReservation](),
		Posts:        NewKeyed[models.SocialPost](),
		Threads:      NewCollection[models.ChatThread](),
		Messages:     NewKeyed[models.ChatMessage](),
		Users:        NewCollection[models.UserProfile](),
		Profile:      NewCollection[models.UserProfile](),
	}
}

// Reset empties everything, e.g. on sign-out.
func (s *State) Reset() {
	s.Auctions.Reset()
	s.Sponsorships.Reset()
	s.Occasions.Reset()
	s.Seats.Reset()
	s.Posts.Reset()
	s.Threads.Reset()
	s.Messages.Reset()
	s.Users.Reset()
	s.Profile.Reset()
}

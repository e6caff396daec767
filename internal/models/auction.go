package models

import "time"

// Bid is an immutable offer on an AuctionItem.
type Bid struct {
	ID         string
	Amount     float64
	BidderName string
	Timestamp  time.Time
	Comment    string
}

// AuctionItem is an honor offered for bidding or immediate purchase.
// Bids are kept newest first; CurrentBid and CurrentWinner mirror Bids[0].
type AuctionItem struct {
	ID            string
	Name          string
	Description   string
	Category      string
	BuyNowPrice   float64
	CurrentBid    float64
	CurrentWinner string
	IsSold        bool
	Bids          []Bid
}

// HasWinner reports whether any bid has been accepted.
func (i AuctionItem) HasWinner() bool {
	return i.CurrentWinner != ""
}

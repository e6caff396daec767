// Package auctions sells synagogue honors by bid or buy-now.
//
// Every competing write goes through the transaction coordinator: the bid
// is validated against the document as it is at commit time, so concurrent
// bidders can never both win or leave currentBid below an accepted bid.
package auctions

import (
	"context"
	"sort"

	"github.com/dmitrijs2005/kehilla/internal/codec"
	"github.com/dmitrijs2005/kehilla/internal/common"
	"github.com/dmitrijs2005/kehilla/internal/content"
	"github.com/dmitrijs2005/kehilla/internal/docstore"
	"github.com/dmitrijs2005/kehilla/internal/feed"
	"github.com/dmitrijs2005/kehilla/internal/logging"
	"github.com/dmitrijs2005/kehilla/internal/models"
	"github.com/dmitrijs2005/kehilla/internal/repositories"
	"github.com/google/uuid"
)

const (
	Collection = "auctionItems"
	FeedName   = "auctions"

	maxCommentLength     = 200
	maxDescriptionLength = 1000
)

type Repository struct {
	d       repositories.Deps
	admins  repositories.Authorizer
	pledges repositories.Pledger
	ceiling float64
	log     logging.Logger
}

type Option func(*Repository)

// WithBidCeiling overrides common.DefaultBidCeiling.
func WithBidCeiling(c float64) Option {
	return func(r *Repository) {
		if c > 0 {
			r.ceiling = c
		}
	}
}

func New(d repositories.Deps, admins repositories.Authorizer, pledges repositories.Pledger, opts ...Option) *Repository {
	d = d.WithDefaults()
	r := &Repository{
		d:       d,
		admins:  admins,
		pledges: pledges,
		ceiling: common.DefaultBidCeiling,
		log:     d.Logger.With("module", "auctions"),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func ref(id string) docstore.DocRef {
	return docstore.DocRef{Collection: Collection, ID: id}
}

func spec() feed.Spec[models.AuctionItem] {
	return feed.Spec[models.AuctionItem]{
		Name:    FeedName,
		Query:   docstore.Query{Collection: Collection},
		Decode:  codec.DecodeAuctionItem,
		Arrange: Arrange,
	}
}

// Arrange orders unsold items first, then by category and name.
func Arrange(items []models.AuctionItem) []models.AuctionItem {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.IsSold != b.IsSold {
			return !a.IsSold
		}
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		return a.Name < b.Name
	})
	return items
}

func (r *Repository) FetchOnce(ctx context.Context) ([]models.AuctionItem, error) {
	return repositories.Fetch(ctx, r.d, spec(), r.d.State.Auctions)
}

func (r *Repository) Get(ctx context.Context, id string) (models.AuctionItem, error) {
	return repositories.Get(ctx, r.d, ref(id), codec.DecodeAuctionItem)
}

// Subscribe mirrors every item into State.Auctions for screen.
func (r *Repository) Subscribe(ctx context.Context, screen string) error {
	return repositories.Watch(ctx, r.d, feed.Key{Feed: FeedName, Screen: screen}, spec(), r.d.State.Auctions)
}

func (r *Repository) Stop(screen string) {
	r.d.Registry.Stop(feed.Key{Feed: FeedName, Screen: screen})
}

// PlaceBid accepts amount if the item is unsold and amount exceeds the
// current bid at commit time.
func (r *Repository) PlaceBid(ctx context.Context, bidder repositories.Actor, itemID string, amount float64, comment string) (models.Bid, error) {
	bid := models.Bid{
		ID:         uuid.NewString(),
		Amount:     amount,
		BidderName: bidder.Name,
		Comment:    content.Optional(comment, maxCommentLength),
	}
	if bid.BidderName == "" {
		bid.BidderName = bidder.Email
	}

	err := r.d.Txn.RunConditional(ctx, "place_bid", ref(itemID), func(cur docstore.Snapshot) (docstore.Fields, error) {
		item, err := decodeCurrent(cur)
		if err != nil {
			return nil, err
		}
		if item.IsSold {
			return nil, common.ErrAlreadySold.WithMessage("%s is already sold", item.Name)
		}
		if amount <= item.CurrentBid {
			return nil, common.ErrStaleBid.WithMessage("bid %.2f does not exceed current bid %.2f", amount, item.CurrentBid)
		}
		if err := checkAmount(amount, r.ceiling); err != nil {
			return nil, err
		}
		bid.Timestamp = r.d.Now()
		return accept(item, bid, false), nil
	})
	if err != nil {
		return models.Bid{}, err
	}
	return bid, nil
}

// BuyNow sells the item at its buy-now price and adds the price to the
// buyer's pledge total. A failed pledge update does not undo the sale.
func (r *Repository) BuyNow(ctx context.Context, buyer repositories.Actor, itemID string) (models.Bid, error) {
	bid := models.Bid{
		ID:         uuid.NewString(),
		BidderName: buyer.Name,
		Comment:    "Buy now",
	}
	if bid.BidderName == "" {
		bid.BidderName = buyer.Email
	}

	err := r.d.Txn.RunConditional(ctx, "buy_now", ref(itemID), func(cur docstore.Snapshot) (docstore.Fields, error) {
		item, err := decodeCurrent(cur)
		if err != nil {
			return nil, err
		}
		if item.IsSold {
			return nil, common.ErrAlreadySold.WithMessage("%s is already sold", item.Name)
		}
		if err := checkAmount(item.BuyNowPrice, r.ceiling); err != nil {
			return nil, err
		}
		bid.Amount = item.BuyNowPrice
		bid.Timestamp = r.d.Now()
		return accept(item, bid, true), nil
	})
	if err != nil {
		return models.Bid{}, err
	}

	if r.pledges != nil {
		if err := r.pledges.IncrementPledge(ctx, buyer.Email, bid.Amount); err != nil {
			r.log.Error(ctx, "pledge after buy-now failed", "item", itemID, "buyer", buyer.Email, "amount", bid.Amount, "error", err)
		}
	}
	return bid, nil
}

// Create adds a new item. Only admins may create items.
func (r *Repository) Create(ctx context.Context, actor repositories.Actor, item models.AuctionItem) (models.AuctionItem, error) {
	if err := repositories.RequireAdmin(ctx, r.admins, actor); err != nil {
		return models.AuctionItem{}, err
	}

	item.Name = content.Clean(item.Name)
	if item.Name == "" {
		return models.AuctionItem{}, common.ErrInvalidName.WithMessage("item needs a name")
	}
	if err := checkAmount(item.BuyNowPrice, r.ceiling); err != nil {
		return models.AuctionItem{}, err
	}
	item.Description = content.Optional(item.Description, maxDescriptionLength)
	item.Category = content.Clean(item.Category)
	if item.Category == "" {
		item.Category = common.DefaultCategory
	}
	if item.ID == "" {
		item.ID = docstore.NewID()
	}
	item.CurrentBid = 0
	item.CurrentWinner = ""
	item.IsSold = false
	item.Bids = []models.Bid{}

	if err := r.d.Txn.ClaimIdentity(ctx, "create_auction_item", ref(item.ID), codec.EncodeAuctionItem(item), common.ErrAlreadyExists); err != nil {
		return models.AuctionItem{}, err
	}
	return item, nil
}

// Delete removes an item. Only admins may delete items.
func (r *Repository) Delete(ctx context.Context, actor repositories.Actor, itemID string) error {
	if err := repositories.RequireAdmin(ctx, r.admins, actor); err != nil {
		return err
	}
	return r.d.Txn.DeleteIf(ctx, "delete_auction_item", ref(itemID), nil)
}

func decodeCurrent(cur docstore.Snapshot) (models.AuctionItem, error) {
	if !cur.Exists {
		return models.AuctionItem{}, repositories.NotFound(cur.Ref)
	}
	item, err := codec.DecodeAuctionItem(cur.Ref.ID, cur.Fields)
	if err != nil {
		return models.AuctionItem{}, common.ErrNotFound.WithMessage("%s is malformed", cur.Ref).WithCause(err)
	}
	return item, nil
}

func checkAmount(amount, ceiling float64) error {
	if !codec.Finite(amount) || amount <= 0 {
		return common.ErrInvalidAmount.WithMessage("amount must be a positive number")
	}
	if amount > ceiling {
		return common.ErrInvalidAmount.WithMessage("amount %.2f exceeds the limit of %.2f", amount, ceiling)
	}
	return nil
}

// accept prepends bid and moves the current bid and winner to it. The
// stored list is therefore in commit order, newest first.
func accept(item models.AuctionItem, bid models.Bid, sold bool) docstore.Fields {
	bids := append([]models.Bid{bid}, item.Bids...)
	f := docstore.Fields{
		"bids":          codec.EncodeBids(bids),
		"currentBid":    bid.Amount,
		"currentWinner": bid.BidderName,
	}
	if sold {
		f["isSold"] = true
	}
	return f
}

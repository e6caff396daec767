package codec

import (
	"fmt"

	"github.com/dmitrijs2005/kehilla/internal/common"
	"github.com/dmitrijs2005/kehilla/internal/docstore"
	"github.com/dmitrijs2005/kehilla/internal/models"
)

// DecodeAuctionItem applies the defaults isSold=false and
// category="General". Bids keep their stored order, which is newest
// accepted first; bid timestamps come from the bidders' clocks and do not
// decide the order.
func DecodeAuctionItem(id string, f docstore.Fields) (models.AuctionItem, error) {
	r := newReader(f)
	item := models.AuctionItem{
		ID:            id,
		Name:          r.requiredString("name"),
		Description:   r.optionalString("description", ""),
		Category:      r.optionalString("category", common.DefaultCategory),
		BuyNowPrice:   r.requiredNumber("buyNowPrice"),
		CurrentBid:    r.optionalNumber("currentBid", 0),
		CurrentWinner: r.optionalString("currentWinner", ""),
		IsSold:        r.optionalBool("isSold", false),
	}
	if item.Category == "" {
		item.Category = common.DefaultCategory
	}
	if r.err != nil {
		return models.AuctionItem{}, r.err
	}

	bids, err := decodeBids(id, f["bids"])
	if err != nil {
		return models.AuctionItem{}, err
	}
	item.Bids = bids
	return item, nil
}

func decodeBids(itemID string, v any) ([]models.Bid, error) {
	if v == nil {
		return []models.Bid{}, nil
	}
	list, ok := List(v)
	if !ok {
		return nil, &FieldError{Field: "bids", Reason: fmt.Sprintf("want list, got %T", v)}
	}

	bids := make([]models.Bid, 0, len(list))
	for i, e := range list {
		m, ok := Map(e)
		if !ok {
			return nil, &FieldError{Field: fmt.Sprintf("bids[%d]", i), Reason: "want map"}
		}
		b, err := DecodeBid(fmt.Sprintf("%s-%d", itemID, i), m)
		if err != nil {
			return nil, fmt.Errorf("bids[%d]: %w", i, err)
		}
		bids = append(bids, b)
	}
	return bids, nil
}

// DecodeBid decodes one embedded bid. fallbackID is used when the stored
// bid predates bid ids.
func DecodeBid(fallbackID string, m map[string]any) (models.Bid, error) {
	r := newReader(m)
	b := models.Bid{
		ID:         r.optionalString("id", fallbackID),
		Amount:     r.requiredNumber("amount"),
		BidderName: r.requiredString("bidderName"),
		Timestamp:  r.requiredTime("timestamp"),
		Comment:    r.optionalString("comment", ""),
	}
	if r.err != nil {
		return models.Bid{}, r.err
	}
	if !Finite(b.Amount) || b.Amount <= 0 {
		return models.Bid{}, &FieldError{Field: "amount", Reason: "not a positive finite number"}
	}
	return b, nil
}

func EncodeBid(b models.Bid) map[string]any {
	m := map[string]any{
		"id":         b.ID,
		"amount":     b.Amount,
		"bidderName": b.BidderName,
		"timestamp":  b.Timestamp,
	}
	if b.Comment != "" {
		m["comment"] = b.Comment
	}
	return m
}

func EncodeBids(bids []models.Bid) []any {
	out := make([]any, len(bids))
	for i, b := range bids {
		out[i] = EncodeBid(b)
	}
	return out
}

func EncodeAuctionItem(item models.AuctionItem) docstore.Fields {
	f := docstore.Fields{
		"name":        item.Name,
		"description": item.Description,
		"category":    item.Category,
		"buyNowPrice": item.BuyNowPrice,
		"currentBid":  item.CurrentBid,
		"isSold":      item.IsSold,
		"bids":        EncodeBids(item.Bids),
	}
	if item.CurrentWinner != "" {
		f["currentWinner"] = item.CurrentWinner
	}
	return f
}

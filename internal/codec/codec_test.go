package codec

import (
	"encoding/json"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/dmitrijs2005/kehilla/internal/docstore"
	"github.com/dmitrijs2005/kehilla/internal/models"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 4, 18, 15, 4, 5, 0, time.UTC)

// ---------- numeric normalization ----------

func TestNumber_EncodingsAgree(t *testing.T) {
	encodings := []any{150, int64(150), int32(150), uint8(150), 150.0, float32(150), json.Number("150"), "150", " 150.0 "}
	for _, e := range encodings {
		got, ok := Number(e)
		require.Truef(t, ok, "%T %v", e, e)
		assert.Equalf(t, 150.0, got, "%T %v", e, e)
	}

	for _, bad := range []any{"abc", "NaN", "Inf", math.NaN(), math.Inf(1), float32(math.Inf(-1)), json.Number("NaN"), true, nil, []any{1}} {
		_, ok := Number(bad)
		assert.Falsef(t, ok, "%T %v", bad, bad)
	}
}

func TestDecodeAuctionItem_NonFiniteCurrentBidRejected(t *testing.T) {
	for _, bad := range []any{math.NaN(), math.Inf(1)} {
		_, err := DecodeAuctionItem("h1", docstore.Fields{"name": "Maftir", "buyNowPrice": 500, "currentBid": bad})
		require.Errorf(t, err, "%v", bad)
	}
}

func TestDecodeAuctionItem_NumericEncodingsDecodeEqual(t *testing.T) {
	var got []models.AuctionItem
	for _, price := range []any{int64(500), 500.0, "500"} {
		item, err := DecodeAuctionItem("h1", docstore.Fields{"name": "Maftir", "buyNowPrice": price, "currentBid": price})
		require.NoError(t, err)
		got = append(got, item)
	}
	assert.Equal(t, got[0], got[1])
	assert.Equal(t, got[0], got[2])
	assert.Equal(t, 500.0, got[0].BuyNowPrice)
}

func TestTime_Encodings(t *testing.T) {
	for _, v := range []any{
		t0,
		t0.In(time.FixedZone("IDT", 3*3600)),
		t0.Format(time.RFC3339),
		float64(t0.Unix()),
		t0.Unix(),
		map[string]any{"seconds": t0.Unix(), "nanoseconds": 0},
		map[string]any{"_seconds": float64(t0.Unix())},
	} {
		got, ok := Time(v)
		require.Truef(t, ok, "%T %v", v, v)
		assert.Truef(t, t0.Equal(got), "%T %v -> %v", v, v, got)
	}

	_, ok := Time("yesterday")
	assert.False(t, ok)
}

func TestBool(t *testing.T) {
	for _, v := range []any{true, "true", 1, int64(1)} {
		b, ok := Bool(v)
		require.True(t, ok)
		assert.True(t, b)
	}
	_, ok := Bool(2)
	assert.False(t, ok)
}

// ---------- batch decoding ----------

func TestDecodeAll_DropsOnlyMalformedRecords(t *testing.T) {
	snaps := make([]docstore.Snapshot, 0, 10)
	for i := 0; i < 10; i++ {
		f := docstore.Fields{"name": fmt.Sprintf("Honor %d", i), "buyNowPrice": 100 + i}
		if i == 6 {
			f["buyNowPrice"] = "a lot"
		}
		snaps = append(snaps, docstore.Snapshot{
			Ref:    docstore.DocRef{Collection: "auctionItems", ID: fmt.Sprintf("h%d", i)},
			Fields: f,
			Exists: true,
		})
	}

	items, rejects := DecodeAll(snaps, DecodeAuctionItem)
	require.Len(t, items, 9)
	require.Len(t, rejects, 1)
	assert.Equal(t, "h6", rejects[0].Ref.ID)

	var fe *FieldError
	require.ErrorAs(t, rejects[0].Err, &fe)
	assert.Equal(t, "buyNowPrice", fe.Field)
	assert.Equal(t, "h7", items[6].ID)
}

func TestDecodeOne_Missing(t *testing.T) {
	_, ok, err := DecodeOne(docstore.Snapshot{}, DecodeAuctionItem)
	require.NoError(t, err)
	require.False(t, ok)
}

// ---------- entity rules ----------

func TestDecodeAuctionItem_Defaults(t *testing.T) {
	item, err := DecodeAuctionItem("h1", docstore.Fields{"name": "Petichah", "buyNowPrice": 180})
	require.NoError(t, err)
	assert.False(t, item.IsSold)
	assert.Equal(t, "General", item.Category)
	assert.Empty(t, item.Bids)
	assert.False(t, item.HasWinner())
}

func TestDecodeAuctionItem_BidsKeepStoredOrder(t *testing.T) {
	// b2 was accepted last but its bidder's clock ran behind.
	f := docstore.Fields{
		"name":          "Hagbah",
		"buyNowPrice":   1000,
		"currentBid":    150,
		"currentWinner": "B",
		"bids": []any{
			map[string]any{"amount": "150", "bidderName": "B", "timestamp": t0.Add(-time.Minute), "id": "b2"},
			map[string]any{"amount": 100, "bidderName": "A", "timestamp": t0},
		},
	}
	item, err := DecodeAuctionItem("h1", f)
	require.NoError(t, err)
	require.Len(t, item.Bids, 2)
	assert.Equal(t, "b2", item.Bids[0].ID)
	assert.Equal(t, "h1-1", item.Bids[1].ID)
	assert.Equal(t, item.CurrentBid, item.Bids[0].Amount)
	assert.Equal(t, item.CurrentWinner, item.Bids[0].BidderName)

	f["bids"] = []any{map[string]any{"amount": -5, "bidderName": "C", "timestamp": t0}}
	_, err = DecodeAuctionItem("h1", f)
	require.Error(t, err)
}

func TestDecodePost_LegacyMediaShapes(t *testing.T) {
	base := func() docstore.Fields {
		return docstore.Fields{"authorEmail": "a@x.org", "timestamp": t0}
	}

	single := base()
	single["media"] = map[string]any{"url": "https://m/1.jpg", "path": "posts/p/1.jpg", "width": 640.0}
	p, err := DecodePost("p1", single)
	require.NoError(t, err)
	require.Len(t, p.Media, 1)
	assert.Equal(t, 640, p.Media[0].Width)

	list := base()
	list["media"] = []any{
		map[string]any{"url": "u1"}, map[string]any{"url": "u2"},
	}
	p, err = DecodePost("p1", list)
	require.NoError(t, err)
	assert.Len(t, p.Media, 2)

	legacy := base()
	legacy["imageUrl"] = "https://m/old.jpg"
	legacy["imagePath"] = "posts/old.jpg"
	p, err = DecodePost("p1", legacy)
	require.NoError(t, err)
	require.Len(t, p.Media, 1)
	assert.Equal(t, "posts/old.jpg", p.Media[0].Path)

	tooMany := base()
	tooMany["media"] = []any{
		map[string]any{"url": "1"}, map[string]any{"url": "2"}, map[string]any{"url": "3"},
		map[string]any{"url": "4"}, map[string]any{"url": "5"},
	}
	_, err = DecodePost("p1", tooMany)
	require.Error(t, err)

	empty := base()
	_, err = DecodePost("p1", empty)
	require.Error(t, err, "a post needs content or media")
}

func TestDecodePost_LikeCountFollowsLikers(t *testing.T) {
	p, err := DecodePost("p1", docstore.Fields{
		"authorEmail": "a@x.org",
		"content":     "Shabbat shalom",
		"timestamp":   t0,
		"likes":       []any{"b@x.org", "c@x.org", "b@x.org"},
		"likeCount":   7,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"b@x.org", "c@x.org"}, p.Likers)
	assert.Equal(t, 2, p.LikeCount)
}

func TestDecodeSponsorship_LegacyTier(t *testing.T) {
	f := docstore.Fields{
		"date":         t0,
		"sponsorName":  "Cohen family",
		"sponsorEmail": "cohen@x.org",
		"tierName":     "Deluxe Kiddush",
	}
	s, err := DecodeSponsorship("2026-04-18", f)
	require.NoError(t, err)
	assert.Equal(t, 540.0, s.TierAmount)
	assert.True(t, s.TierInferred)

	f["tierAmount"] = 0
	s, err = DecodeSponsorship("2026-04-18", f)
	require.NoError(t, err)
	assert.Equal(t, 0.0, s.TierAmount)
	assert.False(t, s.TierInferred)

	_, ok := LegacyTierAmount("Custom")
	assert.False(t, ok)
}

func TestSeatID(t *testing.T) {
	assert.Equal(t, "R3-2", SeatID(3, 2))
	row, num, ok := ParseSeatID("R12-40")
	require.True(t, ok)
	assert.Equal(t, 12, row)
	assert.Equal(t, 40, num)

	_, _, ok = ParseSeatID("balcony")
	assert.False(t, ok)

	s, err := DecodeSeat("R3-2", docstore.Fields{"reservedBy": "x@x.org"})
	require.NoError(t, err)
	assert.Equal(t, 3, s.Row)
	assert.Equal(t, 2, s.Number)

	_, err = DecodeSeat("weird", docstore.Fields{"reservedBy": "x@x.org"})
	require.Error(t, err)
}

func TestDecodeUser_DefaultsAndEmail(t *testing.T) {
	u, err := DecodeUser("Avi@X.org", docstore.Fields{"name": "Avi"})
	require.NoError(t, err)
	assert.Equal(t, "avi@x.org", u.Email)
	assert.Equal(t, models.DefaultNotificationPrefs(), u.Notifications)

	_, err = DecodeUser("a@x.org", docstore.Fields{"name": "Avi", "notifications": "on"})
	require.Error(t, err)
}

func TestDecodeThread_KindDefault(t *testing.T) {
	th, err := DecodeThread("ask_a@x.org", docstore.Fields{"participants": []any{"a@x.org"}})
	require.NoError(t, err)
	assert.Equal(t, models.ThreadAssisted, th.Kind)

	_, err = DecodeThread("t", docstore.Fields{})
	require.Error(t, err)
}

// ---------- round trip ----------

// roundTrip stores the encoded fields the way a backend does before decoding.
func roundTrip[T any](t *testing.T, id string, f docstore.Fields, decode DecodeFunc[T]) T {
	t.Helper()
	nf, err := docstore.Normalize(f)
	require.NoError(t, err)
	v, err := decode(id, nf)
	require.NoError(t, err)
	return v
}

func TestRoundTrip(t *testing.T) {
	edited := t0.Add(time.Hour)

	item := models.AuctionItem{
		ID: "h1", Name: "Shlishi", Description: "Third aliyah", Category: "Aliyot",
		BuyNowPrice: 1800, CurrentBid: 250, CurrentWinner: "B", IsSold: false,
		Bids: []models.Bid{
			{ID: "b2", Amount: 250, BidderName: "B", Timestamp: t0.Add(time.Minute), Comment: "l'chaim"},
			{ID: "b1", Amount: 100, BidderName: "A", Timestamp: t0},
		},
	}
	assert.Empty(t, cmp.Diff(item, roundTrip(t, item.ID, EncodeAuctionItem(item), DecodeAuctionItem)))

	sp := models.KiddushSponsorship{
		ID: "2026-04-18", Date: t0, SponsorName: "Levi", SponsorEmail: "levi@x.org",
		Occasion: "Bar mitzvah", TierName: "Gold", TierAmount: 1000, IsPaid: true, Timestamp: t0,
	}
	assert.Empty(t, cmp.Diff(sp, roundTrip(t, sp.ID, EncodeSponsorship(sp), DecodeSponsorship)))

	oc := models.CommunityOccasion{
		ID: "o1", Kind: models.OccasionYahrzeit, Title: "Yahrzeit", PersonName: "Sarah",
		Date: t0, SubmittedBy: "a@x.org", Timestamp: t0,
	}
	assert.Empty(t, cmp.Diff(oc, roundTrip(t, oc.ID, EncodeOccasion(oc), DecodeOccasion)))

	seat := models.SeatReservation{ID: "R3-2", Row: 3, Number: 2, ReservedBy: "x@x.org", ReservedByName: "X", Timestamp: t0}
	assert.Empty(t, cmp.Diff(seat, roundTrip(t, seat.ID, EncodeSeat(seat), DecodeSeat)))

	post := models.SocialPost{
		ID: "p1", AuthorName: "A", AuthorEmail: "a@x.org", Content: "Mazel tov!", Timestamp: t0,
		EditedAt: &edited, Likers: []string{"b@x.org"}, LikeCount: 1, ParentPostID: "p0",
		Media: []models.Media{{Path: "posts/p1/x.jpg", URL: "https://m/x.jpg", Width: 10, Height: 20, Size: 300}},
	}
	assert.Empty(t, cmp.Diff(post, roundTrip(t, post.ID, EncodePost(post), DecodePost)))

	user := models.UserProfile{Email: "a@x.org", Name: "Avi", TotalPledged: 360, IsAdmin: true,
		Notifications: models.NotificationPrefs{Posts: true}}
	assert.Empty(t, cmp.Diff(user, roundTrip(t, user.Email, EncodeUser(user), DecodeUser)))

	th := models.ChatThread{ID: "a_b", Kind: models.ThreadDirect, Participants: []string{"a", "b"},
		LastMessage: "hi", LastMessageAt: t0, CreatedAt: t0}
	assert.Empty(t, cmp.Diff(th, roundTrip(t, th.ID, EncodeThread(th), DecodeThread)))

	msg := models.ChatMessage{ID: "m1", ThreadID: "a_b", SenderEmail: "a", SenderName: "A", Content: "hi", Timestamp: t0}
	assert.Empty(t, cmp.Diff(msg, roundTrip(t, msg.ID, EncodeMessage(msg), MessageDecoder("a_b"))))
}

package cli

import (
	"context"
	"strings"

	"github.com/dmitrijs2005/kehilla/internal/models"
	"github.com/dmitrijs2005/kehilla/internal/repositories/chats"
	"github.com/dmitrijs2005/kehilla/internal/repositories/posts"
)

// SignIn takes the ID token as an argument or, without one, prompts for it
// with echo off.
func (s *Session) SignIn(ctx context.Context, args []string) error {
	var token string
	if len(args) > 0 {
		token = args[0]
	} else {
		var err error
		if token, err = getSecret("Paste ID token", s.out); err != nil {
			return err
		}
	}

	profile, err := s.app.SignIn(ctx, token)
	if err != nil {
		return err
	}
	s.printf("Signed in as %s <%s>\n", profile.Name, profile.Email)
	return nil
}

func (s *Session) SignOut(ctx context.Context, args []string) error {
	s.app.SignOut()
	s.println("Signed out")
	return nil
}

func (s *Session) Auctions(ctx context.Context, args []string) error {
	items, err := s.app.Auctions.FetchOnce(ctx)
	if err != nil {
		return err
	}
	for _, it := range items {
		line := it.ID + "  " + it.Name + "  [" + it.Category + "]"
		switch {
		case it.IsSold:
			line += "  SOLD to " + it.CurrentWinner + " for " + money(it.CurrentBid)
		case it.HasWinner():
			line += "  current " + money(it.CurrentBid) + " by " + it.CurrentWinner
		default:
			line += "  no bids"
		}
		if !it.IsSold && it.BuyNowPrice > 0 {
			line += "  buy now " + money(it.BuyNowPrice)
		}
		s.println(line)
	}
	return nil
}

func (s *Session) Bid(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return usage("bid <item> <amount> [comment]")
	}
	amount, err := parseAmount(args[1])
	if err != nil {
		return err
	}
	bid, err := s.app.Auctions.PlaceBid(ctx, s.actor(), args[0], amount, strings.Join(args[2:], " "))
	if err != nil {
		return err
	}
	s.printf("Bid of %s accepted\n", money(bid.Amount))
	return nil
}

func (s *Session) BuyNow(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usage("buynow <item>")
	}
	bid, err := s.app.Auctions.BuyNow(ctx, s.actor(), args[0])
	if err != nil {
		return err
	}
	s.printf("Bought for %s\n", money(bid.Amount))
	return nil
}

func (s *Session) Sponsorships(ctx context.Context, args []string) error {
	items, err := s.app.Sponsorships.FetchOnce(ctx)
	if err != nil {
		return err
	}
	for _, sp := range items {
		paid := "unpaid"
		if sp.IsPaid {
			paid = "paid"
		}
		s.printf("%s  %s  %s %s  %s\n", sp.ID, sp.DisplayName(), sp.TierName, money(sp.TierAmount), paid)
	}
	return nil
}

func (s *Session) Sponsor(ctx context.Context, args []string) error {
	if len(args) < 3 {
		return usage("sponsor <YYYY-MM-DD> <tier> <amount> [occasion]")
	}
	date, err := s.parseDate(args[0])
	if err != nil {
		return err
	}
	amount, err := parseAmount(args[2])
	if err != nil {
		return err
	}

	p := s.actor()
	sp, err := s.app.Sponsorships.Claim(ctx, p, models.KiddushSponsorship{
		Date:       date,
		TierName:   args[1],
		TierAmount: amount,
		Occasion:   strings.Join(args[3:], " "),
	})
	if err != nil {
		return err
	}
	s.printf("Kiddush on %s is yours\n", sp.ID)
	return nil
}

func (s *Session) Occasions(ctx context.Context, args []string) error {
	items, err := s.app.Occasions.FetchOnce(ctx)
	if err != nil {
		return err
	}
	for _, o := range items {
		s.printf("%s  %s  %s  (%s)\n", o.Date.In(s.loc).Format(dateLayout), o.Kind, o.Title, o.ID)
	}
	return nil
}

func (s *Session) AddOccasion(ctx context.Context, args []string) error {
	if len(args) < 3 {
		return usage("occasion <kind> <YYYY-MM-DD> <title>")
	}
	date, err := s.parseDate(args[1])
	if err != nil {
		return err
	}
	o, err := s.app.Occasions.Add(ctx, s.actor(), models.CommunityOccasion{
		Kind:  models.OccasionKind(args[0]),
		Date:  date,
		Title: strings.Join(args[2:], " "),
	})
	if err != nil {
		return err
	}
	s.printf("Added %s\n", o.ID)
	return nil
}

func (s *Session) Seats(ctx context.Context, args []string) error {
	items, err := s.app.Seats.FetchOnce(ctx)
	if err != nil {
		return err
	}
	for _, r := range items {
		s.printf("%s  %s\n", r.ID, r.ReservedByName)
	}
	return nil
}

func (s *Session) seatArgs(args []string, cmd string) (int, int, error) {
	if len(args) != 2 {
		return 0, 0, usage(cmd + " <row> <number>")
	}
	row, err := parsePosition(args[0])
	if err != nil {
		return 0, 0, err
	}
	number, err := parsePosition(args[1])
	if err != nil {
		return 0, 0, err
	}
	return row, number, nil
}

func (s *Session) Reserve(ctx context.Context, args []string) error {
	row, number, err := s.seatArgs(args, "reserve")
	if err != nil {
		return err
	}
	r, err := s.app.Seats.Reserve(ctx, s.actor(), row, number)
	if err != nil {
		return err
	}
	s.printf("Seat %s reserved\n", r.ID)
	return nil
}

func (s *Session) Unreserve(ctx context.Context, args []string) error {
	row, number, err := s.seatArgs(args, "unreserve")
	if err != nil {
		return err
	}
	if err := s.app.Seats.Cancel(ctx, s.actor(), row, number); err != nil {
		return err
	}
	s.println("Reservation cancelled")
	return nil
}

func (s *Session) Posts(ctx context.Context, args []string) error {
	order := posts.Newest
	if len(args) > 0 && args[0] == "liked" {
		order = posts.MostLiked
	}
	items, err := s.app.Posts.FetchOnce(ctx, order)
	if err != nil {
		return err
	}
	for _, p := range items {
		s.printf("%s  %s: %s  (%d likes, %d replies)\n", p.ID, p.AuthorName, p.Content, p.LikeCount, p.ReplyCount)
	}
	return nil
}

// Post publishes the rest of the line, or prompts for a multi-line body.
func (s *Session) Post(ctx context.Context, args []string) error {
	text := strings.Join(args, " ")
	if text == "" {
		var err error
		if text, err = GetMultiline(s.reader, "Write your post", s.out); err != nil {
			return err
		}
	}
	p, err := s.app.Posts.Create(ctx, s.actor(), text, nil)
	if err != nil {
		return err
	}
	s.printf("Posted %s\n", p.ID)
	return nil
}

func (s *Session) Like(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usage("like <post>")
	}
	liked, err := s.app.Posts.ToggleLike(ctx, s.actor(), args[0])
	if err != nil {
		return err
	}
	if liked {
		s.println("Liked")
	} else {
		s.println("Unliked")
	}
	return nil
}

func (s *Session) Threads(ctx context.Context, args []string) error {
	me := s.actor().Email
	items, err := s.app.Chats.FetchThreads(ctx, me)
	if err != nil {
		return err
	}
	for _, t := range items {
		with := chats.ThreadPeer(t, me)
		if t.Kind == models.ThreadAssisted {
			with = "office"
		}
		s.printf("%s  with %s  %s\n", t.ID, with, t.LastMessage)
	}
	return nil
}

// Chat opens a direct thread with a member, or the assisted thread when
// called without arguments.
func (s *Session) Chat(ctx context.Context, args []string) error {
	me := s.actor().Email
	var (
		t   models.ChatThread
		err error
	)
	if len(args) == 0 {
		t, err = s.app.Chats.EnsureThread(ctx, models.ThreadAssisted, me)
	} else {
		t, err = s.app.Chats.EnsureThread(ctx, models.ThreadDirect, me, args[0])
	}
	if err != nil {
		return err
	}
	s.printf("Thread %s\n", t.ID)
	return nil
}

func (s *Session) Send(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return usage("send <thread> <text>")
	}
	if _, err := s.app.Chats.Send(ctx, s.actor(), args[0], strings.Join(args[1:], " ")); err != nil {
		return err
	}
	s.println("Sent")
	return nil
}

func (s *Session) Messages(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usage("messages <thread>")
	}
	items, err := s.app.Chats.FetchMessages(ctx, args[0])
	if err != nil {
		return err
	}
	for _, m := range items {
		s.printf("%s  %s: %s\n", m.Timestamp.In(s.loc).Format("Jan 2 15:04"), m.SenderName, m.Content)
	}
	return nil
}

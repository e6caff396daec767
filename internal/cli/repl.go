package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// execIface is the command surface the REPL drives. Session implements it;
// tests use a stub.
type execIface interface {
	isSignedIn() bool
	SignIn(ctx context.Context, args []string) error
	SignOut(ctx context.Context, args []string) error
	Auctions(ctx context.Context, args []string) error
	Bid(ctx context.Context, args []string) error
	BuyNow(ctx context.Context, args []string) error
	Sponsorships(ctx context.Context, args []string) error
	Sponsor(ctx context.Context, args []string) error
	Occasions(ctx context.Context, args []string) error
	AddOccasion(ctx context.Context, args []string) error
	Seats(ctx context.Context, args []string) error
	Reserve(ctx context.Context, args []string) error
	Unreserve(ctx context.Context, args []string) error
	Posts(ctx context.Context, args []string) error
	Post(ctx context.Context, args []string) error
	Like(ctx context.Context, args []string) error
	Threads(ctx context.Context, args []string) error
	Chat(ctx context.Context, args []string) error
	Send(ctx context.Context, args []string) error
	Messages(ctx context.Context, args []string) error
}

const (
	helpSignedOut = "Available commands: signin, exit"
	helpSignedIn  = "Available commands: auctions, bid, buynow, sponsorships, sponsor, occasions, occasion, " +
		"seats, reserve, unreserve, (p)osts, post, like, threads, chat, send, messages, signout, exit"
)

// runREPL reads commands from reader until EOF, "exit" or "quit" and
// dispatches them to a. Command errors are printed and the loop goes on.
// Handlers share reader for follow-up prompts.
func runREPL(ctx context.Context, a execIface, statusFn func() string, reader *bufio.Reader, w io.Writer) {
	for {
		fmt.Fprintf(w, "kehilla %s> ", statusFn())
		line, readErr := reader.ReadString('\n')
		if readErr != nil && line == "" {
			return
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		if cmd == "exit" || cmd == "quit" {
			fmt.Fprintln(w, "Bye!")
			return
		}
		if cmd == "help" {
			if a.isSignedIn() {
				fmt.Fprintln(w, helpSignedIn)
			} else {
				fmt.Fprintln(w, helpSignedOut)
			}
			continue
		}
		if cmd != "signin" && !a.isSignedIn() {
			fmt.Fprintln(w, "Please sign in first")
			continue
		}

		var err error
		switch cmd {
		case "signin":
			err = a.SignIn(ctx, args)
		case "signout":
			err = a.SignOut(ctx, args)
		case "auctions":
			err = a.Auctions(ctx, args)
		case "bid":
			err = a.Bid(ctx, args)
		case "buynow":
			err = a.BuyNow(ctx, args)
		case "sponsorships":
			err = a.Sponsorships(ctx, args)
		case "sponsor":
			err = a.Sponsor(ctx, args)
		case "occasions":
			err = a.Occasions(ctx, args)
		case "occasion":
			err = a.AddOccasion(ctx, args)
		case "seats":
			err = a.Seats(ctx, args)
		case "reserve":
			err = a.Reserve(ctx, args)
		case "unreserve":
			err = a.Unreserve(ctx, args)
		case "p", "posts":
			err = a.Posts(ctx, args)
		case "post":
			err = a.Post(ctx, args)
		case "like":
			err = a.Like(ctx, args)
		case "threads":
			err = a.Threads(ctx, args)
		case "chat":
			err = a.Chat(ctx, args)
		case "send":
			err = a.Send(ctx, args)
		case "messages":
			err = a.Messages(ctx, args)
		default:
			fmt.Fprintln(w, "Unknown command:", cmd)
			continue
		}
		if err != nil {
			fmt.Fprintln(w, "Error:", err.Error())
		}
	}
}

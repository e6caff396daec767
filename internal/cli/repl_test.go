package cli

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeExec struct {
	signedIn bool
	calls    []string
	args     [][]string
	fail     string
}

func (f *fakeExec) record(name string, args []string) error {
	f.calls = append(f.calls, name)
	f.args = append(f.args, args)
	if name == f.fail {
		return errors.New(name + " failed")
	}
	return nil
}

func (f *fakeExec) isSignedIn() bool { return f.signedIn }
func (f *fakeExec) SignIn(_ context.Context, a []string) error {
	f.signedIn = true
	return f.record("signin", a)
}
func (f *fakeExec) SignOut(_ context.Context, a []string) error {
	f.signedIn = false
	return f.record("signout", a)
}
func (f *fakeExec) Auctions(_ context.Context, a []string) error     { return f.record("auctions", a) }
func (f *fakeExec) Bid(_ context.Context, a []string) error          { return f.record("bid", a) }
func (f *fakeExec) BuyNow(_ context.Context, a []string) error       { return f.record("buynow", a) }
func (f *fakeExec) Sponsorships(_ context.Context, a []string) error { return f.record("sponsorships", a) }
func (f *fakeExec) Sponsor(_ context.Context, a []string) error      { return f.record("sponsor", a) }
func (f *fakeExec) Occasions(_ context.Context, a []string) error    { return f.record("occasions", a) }
func (f *fakeExec) AddOccasion(_ context.Context, a []string) error  { return f.record("occasion", a) }
func (f *fakeExec) Seats(_ context.Context, a []string) error        { return f.record("seats", a) }
func (f *fakeExec) Reserve(_ context.Context, a []string) error      { return f.record("reserve", a) }
func (f *fakeExec) Unreserve(_ context.Context, a []string) error    { return f.record("unreserve", a) }
func (f *fakeExec) Posts(_ context.Context, a []string) error        { return f.record("posts", a) }
func (f *fakeExec) Post(_ context.Context, a []string) error         { return f.record("post", a) }
func (f *fakeExec) Like(_ context.Context, a []string) error         { return f.record("like", a) }
func (f *fakeExec) Threads(_ context.Context, a []string) error      { return f.record("threads", a) }
func (f *fakeExec) Chat(_ context.Context, a []string) error         { return f.record("chat", a) }
func (f *fakeExec) Send(_ context.Context, a []string) error         { return f.record("send", a) }
func (f *fakeExec) Messages(_ context.Context, a []string) error     { return f.record("messages", a) }

func runLines(f *fakeExec, lines ...string) string {
	var out bytes.Buffer
	runREPL(context.Background(), f, func() string { return "status" }, rdr(strings.Join(lines, "\n")), &out)
	return out.String()
}

func TestRunREPL_SignInGate(t *testing.T) {
	f := &fakeExec{}
	out := runLines(f, "help", "auctions", "signin tok", "help", "auctions", "exit", "seats")

	assert.Equal(t, []string{"signin", "auctions"}, f.calls)
	assert.Equal(t, []string{"tok"}, f.args[0])
	assert.Contains(t, out, helpSignedOut)
	assert.Contains(t, out, helpSignedIn)
	assert.Contains(t, out, "Please sign in first")
	assert.Contains(t, out, "Bye!")
}

func TestRunREPL_DispatchesEveryCommand(t *testing.T) {
	f := &fakeExec{signedIn: true}
	runLines(f,
		"auctions", "bid i1 25 for the kiddush", "buynow i1",
		"sponsorships", "sponsor 2026-04-18 Gold 360",
		"occasions", "occasion birthday 2026-05-01 Moshe turns 40",
		"seats", "reserve 3 2", "unreserve 3 2",
		"p", "posts liked", "post hello", "like p1",
		"threads", "chat bob@example.org", "send t1 hi", "messages t1",
		"signout",
	)

	assert.Equal(t, []string{
		"auctions", "bid", "buynow",
		"sponsorships", "sponsor",
		"occasions", "occasion",
		"seats", "reserve", "unreserve",
		"posts", "posts", "post", "like",
		"threads", "chat", "send", "messages",
		"signout",
	}, f.calls)
	assert.Equal(t, []string{"i1", "25", "for", "the", "kiddush"}, f.args[1])
}

func TestRunREPL_ErrorsAndUnknownCommands(t *testing.T) {
	f := &fakeExec{signedIn: true, fail: "bid"}
	out := runLines(f, "", "   ", "bid x 1", "frobnicate", "quit")

	assert.Equal(t, []string{"bid"}, f.calls)
	assert.Contains(t, out, "Error: bid failed")
	assert.Contains(t, out, "Unknown command: frobnicate")
	assert.Contains(t, out, "kehilla status> ")
}

func TestRunREPL_EOFWithoutNewline(t *testing.T) {
	f := &fakeExec{signedIn: true}
	runLines(f, "seats")
	assert.Equal(t, []string{"seats"}, f.calls)
}

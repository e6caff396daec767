// Package cli is an interactive shell over the kehilla data layer. It signs
// a member in with an ID token and exposes the community operations as
// one-line commands.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/dmitrijs2005/kehilla/internal/app"
	"github.com/dmitrijs2005/kehilla/internal/auth"
	"github.com/dmitrijs2005/kehilla/internal/common"
)

// dateLayout is how dates are typed and printed.
const dateLayout = "2006-01-02"

// getSecret is swapped in tests.
var getSecret = GetSecret

type Session struct {
	app    *app.App
	reader *bufio.Reader
	out    io.Writer
	loc    *time.Location
}

func NewSession(a *app.App, in io.Reader, out io.Writer) (*Session, error) {
	loc, err := a.Config.Location()
	if err != nil {
		return nil, err
	}
	return &Session{app: a, reader: bufio.NewReader(in), out: out, loc: loc}, nil
}

// Run drives the shell until the input ends or the member exits.
func (s *Session) Run(ctx context.Context) {
	fmt.Fprintln(s.out, "Welcome to kehilla (type 'help' for commands)")
	runREPL(ctx, s, s.status, s.reader, s.out)
}

// Stdio builds a Session on the process standard streams.
func Stdio(a *app.App) (*Session, error) {
	return NewSession(a, os.Stdin, os.Stdout)
}

func (s *Session) status() string {
	p, ok := s.app.Principal()
	if !ok {
		return ""
	}
	if s.app.Users.IsAdmin(p.Email) {
		return fmt.Sprintf("(%s admin)", p.Name)
	}
	return fmt.Sprintf("(%s)", p.Name)
}

func (s *Session) isSignedIn() bool {
	_, ok := s.app.Principal()
	return ok
}

func (s *Session) actor() auth.Principal {
	p, _ := s.app.Principal()
	return p
}

func (s *Session) println(args ...any) {
	fmt.Fprintln(s.out, args...)
}

func (s *Session) printf(format string, args ...any) {
	fmt.Fprintf(s.out, format, args...)
}

// usage reports a malformed command line.
func usage(format string) error {
	return common.ErrInvalidInput.WithMessage("usage: %s", format)
}

func parseAmount(v string) (float64, error) {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, common.ErrInvalidAmount.WithMessage("%q is not a number", v)
	}
	return f, nil
}

func parsePosition(v string) (int, error) {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, common.ErrInvalidInput.WithMessage("%q is not a seat position", v)
	}
	return n, nil
}

func (s *Session) parseDate(v string) (time.Time, error) {
	t, err := time.ParseInLocation(dateLayout, v, s.loc)
	if err != nil {
		return time.Time{}, common.ErrInvalidInput.WithMessage("%q is not a YYYY-MM-DD date", v)
	}
	return t, nil
}

func money(v float64) string {
	return "$" + strconv.FormatFloat(v, 'f', -1, 64)
}

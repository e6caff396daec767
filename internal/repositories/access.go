package repositories

import (
	"context"

	"github.com/dmitrijs2005/kehilla/internal/auth"
	"github.com/dmitrijs2005/kehilla/internal/common"
	"github.com/dmitrijs2005/kehilla/internal/docstore"
)

func notFound(ref docstore.DocRef) error {
	return common.ErrNotFound.WithMessage("%s not found", ref)
}

// A stored document that no longer decodes is as good as absent.
func invalidDocument(ref docstore.DocRef, err error) error {
	return common.ErrNotFound.WithMessage("%s is malformed", ref).WithCause(err)
}

// NotFound reports ref as missing.
func NotFound(ref docstore.DocRef) error {
	return notFound(ref)
}

// RequireAdmin fails with ErrNotAdmin unless the store says actor is an
// admin.
func RequireAdmin(ctx context.Context, a Authorizer, actor Actor) error {
	ok, err := a.LookupAdmin(ctx, actor.Email)
	if err != nil {
		return err
	}
	if !ok {
		return common.ErrNotAdmin.WithMessage("%s is not an admin", actor.Email)
	}
	return nil
}

// OwnerOrAdmin returns a check for a conditional delete. It is resolved
// before the transaction so the check stays free of I/O.
func OwnerOrAdmin(ctx context.Context, a Authorizer, actor Actor, owner func(docstore.Fields) string) (func(docstore.Snapshot) error, error) {
	admin, err := a.LookupAdmin(ctx, actor.Email)
	if err != nil {
		return nil, err
	}
	email := auth.NormalizeEmail(actor.Email)
	return func(s docstore.Snapshot) error {
		if admin || auth.NormalizeEmail(owner(s.Fields)) == email {
			return nil
		}
		return common.ErrNotOwner.WithMessage("%s does not own %s", actor.Email, s.Ref)
	}, nil
}

// StringField reads a string field, "" when absent or of another type.
func StringField(name string) func(docstore.Fields) string {
	return func(f docstore.Fields) string {
		s, _ := f[name].(string)
		return s
	}
}

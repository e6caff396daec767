// Package common defines the error taxonomy and shared constants used across
// the kehilla data layer. Callers should use errors.Is / errors.As to match
// these values.
package common

import (
	"errors"
	"fmt"
)

// Kind is the top-level failure class reported to callers.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindConflict       Kind = "conflict"
	KindNotFound       Kind = "not_found"
	KindNetwork        Kind = "network"
	KindPartialCleanup Kind = "partial_cleanup"
)

// Reason narrows a Kind down to a specific, user-presentable cause.
type Reason string

const (
	ReasonAlreadySold     Reason = "already_sold"
	ReasonStaleBid        Reason = "stale_bid"
	ReasonAlreadyClaimed  Reason = "already_claimed"
	ReasonAlreadyReserved Reason = "already_reserved"
	ReasonAlreadyExists   Reason = "already_exists"

	ReasonInvalidAmount  Reason = "invalid_amount"
	ReasonInvalidContent Reason = "invalid_content"
	ReasonInvalidName    Reason = "invalid_name"
	ReasonInvalidInput   Reason = "invalid_input"
	ReasonNotOwner       Reason = "not_owner"
	ReasonNotAdmin       Reason = "not_admin"
	ReasonRateLimited    Reason = "rate_limited"

	ReasonContention Reason = "contention"
	ReasonFeed       Reason = "feed"
)

// Error is the structured error returned by repositories and the transaction
// coordinator.
type Error struct {
	Kind    Kind
	Reason  Reason
	Message string
	Cause   error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
		if e.Reason != "" {
			msg += ": " + string(e.Reason)
		}
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches by kind, and by reason when the target carries one.
// This makes both errors.Is(err, ErrConflict) and errors.Is(err, ErrStaleBid)
// work for a stale bid.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Reason == "" || t.Reason == e.Reason
}

// WithMessage returns a copy of e carrying a caller specific message.
func (e *Error) WithMessage(format string, args ...any) *Error {
	c := *e
	c.Message = fmt.Sprintf(format, args...)
	return &c
}

// WithCause returns a copy of e wrapping cause.
func (e *Error) WithCause(cause error) *Error {
	c := *e
	c.Cause = cause
	return &c
}

var (
	// Kind-level sentinels.
	ErrValidation     = &Error{Kind: KindValidation}
	ErrConflict       = &Error{Kind: KindConflict}
	ErrNotFound       = &Error{Kind: KindNotFound}
	ErrNetwork        = &Error{Kind: KindNetwork}
	ErrPartialCleanup = &Error{Kind: KindPartialCleanup}

	// Conflicts.
	ErrAlreadySold     = &Error{Kind: KindConflict, Reason: ReasonAlreadySold, Message: "item already sold"}
	ErrStaleBid        = &Error{Kind: KindConflict, Reason: ReasonStaleBid, Message: "bid must exceed the current bid"}
	ErrAlreadyClaimed  = &Error{Kind: KindConflict, Reason: ReasonAlreadyClaimed, Message: "date already sponsored"}
	ErrAlreadyReserved = &Error{Kind: KindConflict, Reason: ReasonAlreadyReserved, Message: "seat already reserved"}
	ErrAlreadyExists   = &Error{Kind: KindConflict, Reason: ReasonAlreadyExists, Message: "document already exists"}

	// Validation.
	ErrInvalidAmount  = &Error{Kind: KindValidation, Reason: ReasonInvalidAmount, Message: "invalid amount"}
	ErrInvalidContent = &Error{Kind: KindValidation, Reason: ReasonInvalidContent, Message: "invalid content"}
	ErrInvalidName    = &Error{Kind: KindValidation, Reason: ReasonInvalidName, Message: "invalid name"}
	ErrInvalidInput   = &Error{Kind: KindValidation, Reason: ReasonInvalidInput, Message: "invalid input"}
	ErrNotOwner       = &Error{Kind: KindValidation, Reason: ReasonNotOwner, Message: "not the owner"}
	ErrNotAdmin       = &Error{Kind: KindValidation, Reason: ReasonNotAdmin, Message: "admin rights required"}
	ErrRateLimited    = &Error{Kind: KindValidation, Reason: ReasonRateLimited, Message: "too many requests"}

	// Network.
	ErrContention = &Error{Kind: KindNetwork, Reason: ReasonContention, Message: "too much contention, try again"}
	ErrFeed       = &Error{Kind: KindNetwork, Reason: ReasonFeed, Message: "change feed failed"}
)

// KindOf reports the taxonomy kind of err, or "" when err is not a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// ReasonOf reports the reason of err, or "" when err is not a *Error.
func ReasonOf(err error) Reason {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}

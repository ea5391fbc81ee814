package domain

import (
	"errors"
	"fmt"
)

// Kind classifies failures so callers can switch on them instead of
// inspecting error strings.
type Kind int

const (
	KindUnknown Kind = iota
	KindParse
	KindRegistration
	KindRouting
	KindCrypto
	KindChannel
	KindTransfer
	KindLiveness
	KindVerification
)

func (k Kind) String() string {
	switch k {
	case KindParse:
		return "parse"
	case KindRegistration:
		return "registration"
	case KindRouting:
		return "routing"
	case KindCrypto:
		return "crypto"
	case KindChannel:
		return "channel"
	case KindTransfer:
		return "transfer"
	case KindLiveness:
		return "liveness"
	case KindVerification:
		return "verification"
	}
	return "unknown"
}

// Fatal reports whether an error of this kind ends the session.
func (k Kind) Fatal() bool {
	return k == KindLiveness || k == KindVerification
}

type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// E wraps err with a kind and the operation that failed.
func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

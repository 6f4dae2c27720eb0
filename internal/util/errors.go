package util

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrNoSearchCriteria   = errors.New("no search criteria")
	ErrEmptyInstruction   = errors.New("instruction is empty")
	ErrTooManyItems       = errors.New("too many items selected for batch review")
	ErrNoExtractableText  = errors.New("no extractable text found in PDF")
	ErrAlreadyImported    = errors.New("document already imported")
	ErrMalformedCitation  = errors.New("malformed citation response")
	ErrCitationUnresolved = errors.New("could not determine citation")
	ErrUpstream           = errors.New("upstream unavailable")
	ErrNotFound           = errors.New("not found")
)

type ErrorKind string

const (
	KindUserInput ErrorKind = "user_input"
	KindUpstream  ErrorKind = "upstream_unavailable"
	KindParse     ErrorKind = "parse"
	KindDuplicate ErrorKind = "duplicate"
	KindNotFound  ErrorKind = "not_found"
	KindInternal  ErrorKind = "internal"
)

// Upstream marks err as a failure of an external collaborator.
func Upstream(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrUpstream, err)
}

func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrNoSearchCriteria),
		errors.Is(err, ErrEmptyInstruction),
		errors.Is(err, ErrTooManyItems),
		errors.Is(err, ErrNoExtractableText):
		return KindUserInput
	case errors.Is(err, ErrAlreadyImported):
		return KindDuplicate
	case errors.Is(err, ErrMalformedCitation):
		return KindParse
	case errors.Is(err, ErrUpstream), errors.Is(err, ErrCitationUnresolved):
		return KindUpstream
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	default:
		return KindInternal
	}
}

// Hint returns the next step a user can take after err.
func Hint(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoSearchCriteria):
		return "Enter a topic or paste one or more DOIs, one per line."
	case errors.Is(err, ErrEmptyInstruction):
		return "Write an instruction for the review and try again."
	case errors.Is(err, ErrTooManyItems):
		return "Select at most 20 items for a batch review."
	case errors.Is(err, ErrNoExtractableText):
		return "The PDF has no selectable text. Upload a text-based PDF."
	case errors.Is(err, ErrAlreadyImported):
		return "This document is already imported."
	case errors.Is(err, ErrMalformedCitation), errors.Is(err, ErrCitationUnresolved):
		return "Could not determine the citation. Try regenerating it or supply the DOI."
	case errors.Is(err, ErrUpstream):
		return "An external service is unavailable. Try again shortly or choose another model."
	case errors.Is(err, ErrNotFound):
		return "The requested item was not found."
	case errors.Is(err, ErrInvalidInput):
		return "Check the request fields and try again."
	default:
		return "Please retry or check service logs."
	}
}

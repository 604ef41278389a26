package cms

import "errors"

// Sentinel errors for envelope handling.
var (
	// ErrMalformed is returned when the EnvelopedData cannot be decoded.
	ErrMalformed = errors.New("malformed enveloped data")

	// ErrUnsupportedRecipient is returned when a recipient key can neither
	// receive a transported key nor agree one.
	ErrUnsupportedRecipient = errors.New("unsupported recipient key")

	// ErrNoMatchingRecipient is returned when no RecipientInfo can be
	// opened with the supplied key.
	ErrNoMatchingRecipient = errors.New("no matching recipient")
)

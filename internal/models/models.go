// Package models defines the messages exchanged between agencies and
// carriers and their plain-text wire formats.
package models

import "errors"

// ErrMalformedOrder is returned when an order payload can't be decoded.
var ErrMalformedOrder = errors.New("malformed order")

const fieldSeparator = ":"

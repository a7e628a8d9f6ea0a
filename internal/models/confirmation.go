package models

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	confirmationPrefix = "Order "
	confirmationSuffix = " confirmed."
)

// Confirmation is sent by a carrier back to the agency that placed an order.
type Confirmation struct {
	Seq         int
	CarrierName string
	Status      string
}

// ConfirmationText is the payload a carrier publishes for a handled order.
func ConfirmationText(seq int) string {
	return confirmationPrefix + strconv.Itoa(seq) + confirmationSuffix
}

// ParseConfirmation rebuilds a Confirmation from the publishing carrier and
// the payload text. The text is kept as the status either way; the error
// only reports that no sequence number could be read from it.
func ParseConfirmation(carrierName, text string) (Confirmation, error) {
	c := Confirmation{CarrierName: carrierName, Status: text}

	if !strings.HasPrefix(text, confirmationPrefix) || !strings.HasSuffix(text, confirmationSuffix) {
		return c, fmt.Errorf("unrecognised confirmation %q", text)
	}

	num := strings.TrimSuffix(strings.TrimPrefix(text, confirmationPrefix), confirmationSuffix)
	seq, err := strconv.Atoi(num)
	if err != nil {
		return c, fmt.Errorf("confirmation sequence %q: %w", num, err)
	}
	c.Seq = seq

	return c, nil
}

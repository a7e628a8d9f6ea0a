package routing

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "A1.delivery.Cargo", DeliveryKey("A1", "Cargo"))
	assert.Equal(t, "C1.confirmation.A1", ConfirmationKey("C1", "A1"))
	assert.Equal(t, "*.delivery.Cargo", DeliveryPattern("Cargo"))
	assert.Equal(t, "*.confirmation.A1", ConfirmationPattern("A1"))
}

func TestLongestKeysFit(t *testing.T) {
	long := strings.Repeat("x", MaxSegmentLength)
	assert.LessOrEqual(t, len(DeliveryKey(long, long)), MaxKeyLength)
	assert.LessOrEqual(t, len(ConfirmationKey(long, long)), MaxKeyLength)
}

func TestParseKey(t *testing.T) {
	k, err := ParseKey("C1.confirmation.A1")
	require.NoError(t, err)
	assert.Equal(t, Key{Party: "C1", Kind: KindConfirmation, Selector: "A1"}, k)
	assert.Equal(t, "C1.confirmation.A1", k.String())

	for _, bad := range []string{"", "A1.delivery", "A1.delivery.Cargo.x", "A1.shipment.Cargo"} {
		_, err := ParseKey(bad)
		assert.ErrorIs(t, err, ErrInvalidKey, bad)
	}
}

func TestMatch(t *testing.T) {
	tests := []struct {
		pattern string
		key     string
		want    bool
	}{
		{"*.delivery.Cargo", "A1.delivery.Cargo", true},
		{"*.delivery.Cargo", "A1.delivery.People", false},
		{"*.delivery.Cargo", "delivery.Cargo", false},
		{"*.delivery.Cargo", "A.B.delivery.Cargo", false},
		{"*.confirmation.A1", "C1.confirmation.A1", true},
		{"*.confirmation.A1", "C1.confirmation.A2", false},
		{"*.confirmation.A1", "C1.delivery.A1", false},
		{"#", "A1.delivery.Cargo", true},
		{"#", "", true},
		{"A1.#", "A1.delivery.Cargo", true},
		{"A1.#", "A1", true},
		{"#.Cargo", "A1.delivery.Cargo", true},
		{"#.delivery.#", "A1.delivery.Cargo", true},
		{"#.delivery.#", "A1.confirmation.Cargo", false},
		{"A1.delivery.Cargo", "A1.delivery.Cargo", true},
		{"A1.*", "A1.delivery.Cargo", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+" "+tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, Match(tt.pattern, tt.key))
		})
	}
}

func TestPatternsMatchTheirKeys(t *testing.T) {
	assert.True(t, Match(DeliveryPattern("Satellite"), DeliveryKey("any", "Satellite")))
	assert.True(t, Match(ConfirmationPattern("A1"), ConfirmationKey("C9", "A1")))
	assert.False(t, Match(ConfirmationPattern("A1"), ConfirmationKey("C9", "A10")))
}

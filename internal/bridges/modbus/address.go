package modbus

import "fmt"

// Relay addressing constants for the R32CH relay board.
const (
	// MinRelay is the lowest logical relay number.
	MinRelay = 1

	// MaxRelay is the highest logical relay number.
	MaxRelay = 32

	// CoilCount is the number of physical coil outputs on the board.
	CoilCount = 32

	// relayGroupSize is the number of relays per wiring group. The board's
	// output connector swaps groups of eight between logical numbering and
	// coil addressing.
	relayGroupSize = 8

	// coilGroupBase is the coil offset of the first relay group.
	coilGroupBase = 24
)

// CoilForRelay converts a logical relay number (1..32) to the physical coil
// position (0..31) it is wired to.
//
// The board's outputs are byte-swapped relative to the printed relay numbers:
//
//	relays  1..8  -> coils 24..31
//	relays  9..16 -> coils 16..23
//	relays 17..24 -> coils  8..15
//	relays 25..32 -> coils  0..7
//
// The transform is an involution: applying it twice yields the identity, so
// RelayForCoil uses the same arithmetic.
//
// Returns:
//   - int: Coil position in [0, 31]
//   - error: If relay is outside [1, 32]
func CoilForRelay(relay int) (int, error) {
	if relay < MinRelay || relay > MaxRelay {
		return 0, fmt.Errorf("%w: relay %d outside [%d, %d]",
			ErrRelayOutOfRange, relay, MinRelay, MaxRelay)
	}
	idx := relay - MinRelay
	return swapGroups(idx), nil
}

// RelayForCoil converts a physical coil position (0..31) back to the logical
// relay number (1..32). Inverse of CoilForRelay.
//
// Returns:
//   - int: Relay number in [1, 32]
//   - error: If coil is outside [0, 31]
func RelayForCoil(coil int) (int, error) {
	if coil < 0 || coil >= CoilCount {
		return 0, fmt.Errorf("%w: coil %d outside [0, %d]",
			ErrRelayOutOfRange, coil, CoilCount-1)
	}
	return swapGroups(coil) + MinRelay, nil
}

// swapGroups applies the byte-swap involution on a zero-based index.
func swapGroups(idx int) int {
	return coilGroupBase - (idx/relayGroupSize)*relayGroupSize + idx%relayGroupSize
}

package modbus

import (
	"errors"
	"testing"
)

func TestCoilForRelay_GroupSwap(t *testing.T) {
	tests := []struct {
		relay int
		coil  int
	}{
		{1, 24},
		{8, 31},
		{9, 16},
		{16, 23},
		{17, 8},
		{24, 15},
		{25, 0},
		{32, 7},
	}

	for _, tt := range tests {
		coil, err := CoilForRelay(tt.relay)
		if err != nil {
			t.Fatalf("CoilForRelay(%d) error = %v", tt.relay, err)
		}
		if coil != tt.coil {
			t.Errorf("CoilForRelay(%d) = %d, want %d", tt.relay, coil, tt.coil)
		}
	}
}

func TestCoilForRelay_Involution(t *testing.T) {
	for relay := MinRelay; relay <= MaxRelay; relay++ {
		coil, err := CoilForRelay(relay)
		if err != nil {
			t.Fatalf("CoilForRelay(%d) error = %v", relay, err)
		}
		if coil < 0 || coil >= CoilCount {
			t.Fatalf("CoilForRelay(%d) = %d, outside [0, %d]", relay, coil, CoilCount-1)
		}

		back, err := RelayForCoil(coil)
		if err != nil {
			t.Fatalf("RelayForCoil(%d) error = %v", coil, err)
		}
		if back != relay {
			t.Errorf("RelayForCoil(CoilForRelay(%d)) = %d, want %d", relay, back, relay)
		}
	}
}

func TestCoilForRelay_AppliedTwiceIsIdentity(t *testing.T) {
	// The transform is an involution on zero-based positions: treating a
	// coil position as a relay index and mapping again must return the
	// original position.
	for idx := 0; idx < CoilCount; idx++ {
		if got := swapGroups(swapGroups(idx)); got != idx {
			t.Errorf("swapGroups(swapGroups(%d)) = %d, want %d", idx, got, idx)
		}
	}
}

func TestCoilForRelay_OutOfRange(t *testing.T) {
	for _, relay := range []int{0, -1, 33, 100} {
		if _, err := CoilForRelay(relay); !errors.Is(err, ErrRelayOutOfRange) {
			t.Errorf("CoilForRelay(%d) error = %v, want ErrRelayOutOfRange", relay, err)
		}
	}
}

func TestRelayForCoil_OutOfRange(t *testing.T) {
	for _, coil := range []int{-1, 32, 64} {
		if _, err := RelayForCoil(coil); !errors.Is(err, ErrRelayOutOfRange) {
			t.Errorf("RelayForCoil(%d) error = %v, want ErrRelayOutOfRange", coil, err)
		}
	}
}

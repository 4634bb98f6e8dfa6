// Package modbus drives the R32CH 32-channel Modbus relay board used to
// actuate window shutter motors.
//
// The package provides two things:
//
//   - RelayClient: a Modbus RTU/TCP client exposing whole-board coil
//     operations (WriteAll, ReadAll, ResetAll) over a single exclusive
//     connection, built on github.com/goburrow/modbus.
//   - Relay address mapping: CoilForRelay and RelayForCoil translate between
//     the logical relay numbers printed on the board (1..32) and the physical
//     coil positions on the wire (0..31). The board swaps groups of eight
//     outputs, and the transform is its own inverse.
//
// # Safety
//
// Shutter motors must never be left energised. Callers are expected to issue
// ResetAll on every exit path; RelayClient.Close additionally resets the board
// before dropping the connection as defence in depth.
//
// # Transports
//
// The physical board speaks Modbus RTU at 9600 8N1. TCP mode targets the
// bench simulator and Modbus TCP gateways; the board's slave ID register sits
// at 0x4000 on RTU and register 0 on the simulator.
package modbus

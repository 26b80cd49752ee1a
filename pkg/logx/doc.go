// Package logx configures triptimer's structured logging.
//
// Components take a logx.Logger (a thin zerolog wrapper) by value:
//   - Console output stays human readable (short timestamp + short caller)
//   - File output is JSON, one event per line
//   - Level and sinks can be swapped at runtime via Service.Apply
package logx

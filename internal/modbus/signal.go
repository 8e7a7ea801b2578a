package modbus

// ZeroSignal is a zero-size “just-a-signal” type.
type ZeroSignal struct{}

// Zero is the canonical value to send on signal channels.
var Zero ZeroSignal

// Package app is the device context and its command dispatcher.
//
// Responsibilities:
// - Own the record store, the transfer engine, the nonce generator and the
// device identity for the lifetime of one boot.
// - Map each accepted frame to exactly one reply frame.
// - Report client-triggered failures in-band through status bytes.
//
// Non-responsibilities:
// - Byte transport, frame resynchronization and connection handling.
// - The OTP algorithm; CALC_TOKEN delegates to an injected Calculator.
package app

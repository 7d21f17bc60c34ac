// Package fix implements the FIX session layer: tag/value field maps,
// wire framing, the session state machine (logon, heartbeat, resend,
// gap-fill, logout), sequence number management, and the session registry.
//
// Data dictionary model and validation live in the dict subpackage;
// message persistence backends live in the store subpackage.
package fix

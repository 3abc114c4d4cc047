// Package app contains the treasury service contracts, shared runtime
// state, and operation naming that are independent of transport
// protocols.
//
// Responsibilities:
// - Define the service surface consumed by adapters (TreasuryAPI, DaemonService).
// - Provide shared runtime abstractions (notification hub, auto-sync lifecycle).
// - Name the ports the service implementation is wired against.
//
// Non-responsibilities:
// - JSON-RPC/HTTP protocol handling and endpoint-level mapping.
// - Reserve arithmetic and invariant enforcement (internal/treasury).
package app

// Package daemonservice composes the treasury service for the daemon:
// it resolves encrypted storage, unlocks the custody key, dials the
// chain backend and assembles the service with its credential
// verification dependencies.
//
// Responsibilities:
// - Translate resolved configuration into constructed components.
// - Seed first-boot access grants against an empty registry.
// - Wrap the logger so secrets never reach log output unredacted.
//
// Non-responsibilities:
// - Treasury rules (internal/treasury) and the service surface
//   (internal/api).
// - Transport concerns (internal/adapters/rpc).
package daemonservice

// Package enrollment implements the recipient side of a drip campaign:
// enrolling recipients, driving their state machine, recording engagement,
// and the claim/fire/release contract the dispatcher uses to send steps.
//
// All transitions read the current time from an injected clock.Clock.
// Repository implementations live in repository/postgres/ and repository/memory/.
package enrollment

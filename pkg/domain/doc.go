/*
Package domain contains the core domain models for the Colloquy engine.

It defines the state enumerations for activities and topics, the opaque
card payload exchanged at the boundary, the call metadata threaded through
hand-down invocations, and the sentinel errors shared across packages.
This package is kept pure and free of external dependencies like I/O or
persistence, following Hexagonal Architecture principles.

# Key Entities

  - ActivityState / TopicState: lifecycle states of the two state machines.
  - CardPayload: an opaque render request (id + render mode + document).
  - TopicCallInfo: caller/callee metadata carried across a hand-down.
  - ResumeInput: the input delivered to a topic when it regains control.
*/
package domain

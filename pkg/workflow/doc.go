/*
Package workflow implements the two state machines at the core of Colloquy:
the Activity (smallest unit of conversational work) and the Topic (an
ordered queue of activities pumped sequentially over an internal bus).

Activities never expose a call/return API. They self-subscribe to their
topic's internal bus at construction, start only on an execution-requested
envelope matching their id, and report outcomes exclusively as events.
State moves between activities through the topic's Context, not through
parameters.

A Topic owns its internal bus and its Context. Its pump
instantiates one activity at a time from a descriptor queue, publishes the
execution request, and awaits exactly one terminal signal through a
one-shot broadcast waiter before advancing. Topics forward every internal
envelope to the session's domain bus re-tagged with their name, so the
orchestrator observes activity lifecycles without holding activity
references.
*/
package workflow

/*
Package session owns the lifetime of conversation sessions. The Manager
is an explicit registry object passed by reference wherever session lookup
is needed; there is no process-wide mutable state. Each session holds its
own topic registry and orchestrator, a bounded event buffer for pull-based
consumers, and is persisted as a conversation snapshot after every
interaction.
*/
package session

/*
Package ports defines the driven-side interfaces of the engine, following
Hexagonal Architecture: the core depends on these contracts and adapters
(memory, Redis) implement them.
*/
package ports

// Package ashstore provides ContextStore implementations for the ash
// engine: an in-memory store for single-process deployments and a Redis
// store for deployments sharing context state across replicas.
package ashstore

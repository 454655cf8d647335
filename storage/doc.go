// Package storage defines the interfaces for persisting OAuth tokens and
// in-flight authorization state. The connector ships an in-memory
// implementation (storage/memory); anything durable can be plugged in behind
// the same interfaces.
package storage

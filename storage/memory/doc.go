// Package memory provides an in-memory implementation of the storage
// interfaces. Tokens do not survive a process restart; this is the accepted
// MVP trade-off, not a design goal.
package memory

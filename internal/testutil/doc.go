// Package testutil provides JSON:API fixtures, a hand-advanced clock, and an
// instant-firing retry timer for deterministic connector tests.
package testutil

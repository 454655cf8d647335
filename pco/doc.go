// Package pco implements the Planning Center API client: authorized transport
// with rate-limit backoff, JSON:API relationship resolution, and the People
// and Services endpoints the connector exposes.
package pco

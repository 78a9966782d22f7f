// Package server implements the HTTP surface of quarantine-drop. It wires
// the session guard, upload ingestor, scanner and adjudicator behind a chi
// router and provides lifecycle helpers used by tests and the production
// binary.
package server

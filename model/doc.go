// Package model contains the in-memory representation of run criteria, work
// units and the run-event payloads exchanged between the coordinator and its
// worker backends.
//
// A run criteria is typically constructed programmatically or loaded from a
// YAML profile document.  The root model package aggregates those building
// blocks so that they can be referenced from other parts of the code base
// with a single import.
package model

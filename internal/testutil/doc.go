// Package testutil contains small helpers shared by tests to reduce
// boilerplate when collecting and asserting on run events. Not intended
// for production usage.
package testutil

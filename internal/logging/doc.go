// Package logging builds the structured zap logger shared by the engine,
// the audit log sink and the server binary.
package logging

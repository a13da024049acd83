// Package flows holds the step-by-step logic behind each Engine operation.
//
// Each Run function takes a dependency struct of plain functions and returns a
// result carrying a FailureKind, so the root package decides which public
// error, metric and audit event a failure maps to. Flows keep no state between
// calls and never import the root package.
package flows

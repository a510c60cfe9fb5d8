// Package errors provides error classification and wrapping for the
// coupling runtime.
//
// Errors fall into three classes:
//
//   - Transient: network and peer trouble that a transport may retry.
//   - Invalid: API misuse by the submodel or a miswired simulation;
//     these indicate a bug in the calling code or the configuration.
//   - Fatal: unrecoverable conditions, such as receiving on a port the
//     peer already closed.
//
// All packages in this module wrap errors with
// Wrap(err, component, method, action), yielding messages of the form
// "Instance.Receive: port lookup failed: ...", so that every failure
// can be traced to the operation that produced it.
package errors

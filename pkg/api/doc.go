// Package api defines the wire types shared by every majordomo surface.
//
// The package has zero external dependencies and performs no I/O. It holds:
//   - [Result]: the uniform {status, data} envelope returned by every endpoint
//   - [Error]: the error taxonomy (invalid key, unknown handler, ownership
//     mismatch, compile, runtime, persistence, upstream lookup, malformed request)
//   - request bodies for the management endpoints and their validation
package api

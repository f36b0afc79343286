// Package auth holds tenant credentials and invocation limits.
//
// A [KeyStore] is the membership set of valid API keys. Keys are supplied
// out of band at startup and never mutated by requests. Plaintext keys
// are hashed on entry and compared in constant time. Key validity and
// handler ownership are independent checks: this package only answers
// "is this a tenant", never "does this tenant own that handler".
//
// [InProcessLimiter] bounds how often a single handler address may be
// invoked, and [Middleware] guards HTTP surfaces that take the key as a
// bearer token instead of in the request body.
package auth

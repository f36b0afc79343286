// Package engine defines the contract between majordomo and the sandboxed
// script interpreters that run tenant handlers.
//
// An [Engine] compiles handler source into a [Program] once, at upsert or
// load time, and invokes it many times. Compilation is pure and
// deterministic, so a Program can always be rederived from its source.
// Invocation is bounded by a step ceiling and may only reach the host
// through the [Capabilities] passed in for that one call.
//
// Implementations live in subpackages:
//   - starlark: the default engine (Starlark dialect, no while, no recursion)
//   - hclexpr: an HCL expression engine (a single handle attribute)
package engine

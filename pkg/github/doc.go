// Package github is a small GitHub REST client used by the ticket
// capability. It creates issues and nothing else.
//
// Two authentication modes are supported:
//   - a static token (personal access token or fine-grained token)
//   - GitHub App installation auth: an RS256 JWT signed with the App's
//     private key is exchanged for an installation token, which is cached
//     and rotated five minutes before it expires
package github

// Package admin implements the account and sensor token services behind the
// HTTP API and the unconv-server CLI.
//
// # Accounts
//
// AccountService registers users with bcrypt password hashes and exchanges
// username/password for a bearer JWT.
//
// # Sensor Tokens
//
// TokenService issues, lists and revokes sensor API tokens for sensor systems
// the caller owns:
//
//   - Issue: default lifetime 90 days, maximum 365 days. The raw token is
//     returned once and never stored. Suffix collisions are retried a few
//     times before giving up with ErrSuffixExhausted.
//   - List: token metadata only, no secrets.
//   - Revoke: deletes a token; it stops authenticating immediately.
//   - PurgeExpired: removes expired tokens, run periodically by the server.
//
// Every mutation is appended to the audit log on a best-effort basis.
package admin

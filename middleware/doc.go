// Package middleware adapts authcore.Engine to net/http.
//
//   - [ClientInfo] attaches client IP and User-Agent for rate limiting and session records.
//   - [Authenticate] loads the live identity from the access cookie or a bearer header.
//   - [CSRF] enforces double-submit tokens on cookie-authenticated mutations.
//   - [RequireRole] checks the live role.
//
// Decisions are delegated to the Engine; this package only maps them to
// status codes and cookies.
package middleware

// Package csrf implements stateless double-submit CSRF protection.
//
// A token is a signed envelope {uid, nonce, iat, exp, typ="csrf"}. The server
// sets it in a cookie readable by the page, and the page echoes it in a
// request header. A mutating request authenticated by cookie is accepted only
// when header and cookie match and the token verifies for the authenticated
// user. Bearer-authenticated requests are not subject to the check.
package csrf

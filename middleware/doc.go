// Package middleware adapts the Engine to net/http.
//
// [Guard] reads "Authorization: Bearer <token>", validates it and attaches
// the [tgauth.AuthResult] to the request context. Failures are answered with
// 401 and a JSON body whose code is authorization_missing, token_expired or
// token_invalid, so clients can tell an expired session from a broken one.
//
// [RequireRole] and [RateLimit] are independent and compose with any router.
package middleware

// Package jwt issues and verifies role-scoped HS256 token pairs.
//
// Every role owns a distinct secret and tokens carry the role name as kid, so a
// token signed for one role never verifies under another role's key.
package jwt

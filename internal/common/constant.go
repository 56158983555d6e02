// Package common contains shared constants and sentinel errors used across
// gophmove components.
package common

// AuthorizationHeaderName carries the operator bearer token on management
// requests.
const AuthorizationHeaderName = "Authorization"

// BearerPrefix precedes the operator token in the Authorization header.
const BearerPrefix = "Bearer "

// FederationPathPrefix is the per-user prefix of every federation endpoint,
// appended to "/{username}".
const FederationPathPrefix = "/api/federation"

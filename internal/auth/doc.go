// Package auth guards the clonepilot relay API with HS256 JWTs.
//
// When auth.jwt_secret is configured, every /directline route is wrapped in
// HTTPAuthMiddleware. Callers present the token as
//
//	Authorization: Bearer <jwt>
//
// and the token's "sub" claim becomes the request subject, available to
// handlers through SubjectFromContext. Tokens are minted with
// JWTVerifier.Generate, which the `clonepilot token` command exposes.
//
// Secrets shorter than MinSecretLength bytes are refused.
package auth

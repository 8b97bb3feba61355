// Package token manages the lifecycle of single-use, expiring secrets bound
// to an account: email verification codes and password reset tokens.
//
// Each account holds at most one pending token per [Kind]. [Manager.Issue]
// supersedes the previous one; [Manager.Validate] consumes a token at most
// once even under concurrent submissions, and reports expired or spent
// tokens distinctly from unknown ones while their records are retained.
package token

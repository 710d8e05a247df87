// Package login establishes the identity a process runs as.
//
// A Registry maps each authentication mode to an ordered chain of login
// modules. A Session runs that chain lazily on first use, caches the single
// resulting identity, and hands it to callers through RunAs and Do.
//
// Chain evaluation follows the two phase model of pluggable login modules:
//
//  1. Login: modules run in order. A Mandatory failure aborts the chain, a
//     Sufficient success skips the remaining logins, an Optional failure is
//     ignored and a module returning ErrIgnore does not take part.
//  2. Commit: every module that took part (including those skipped by a
//     Sufficient short-circuit) commits into the shared Subject. The
//     identity module turns the collected principals into exactly one
//     auth.Identity.
package login

// Package syncstore keeps a local view of "my tasks" and "my profile"
// consistent with the remote store.
//
// Three things change that view: mutations made through a store, push
// notifications about changes made elsewhere, and sign-in/sign-out. Each
// store is built from the same pieces:
//
//   - SessionTracker follows the current identity.
//   - Reload replaces local state with one authoritative read.
//   - Mutations write remotely and then swap in the row the store
//     returned, never a locally built guess.
//   - A change listener holds at most one push subscription, scoped to
//     the current identity, and turns notifications into reloads.
//
// Every request remembers the identity scope it was issued under. A
// response that comes back after the scope changed is dropped, so a slow
// answer for a signed-out user never lands in the next user's state.
package syncstore

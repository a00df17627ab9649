// Package matrix wraps the mautrix client with the small surface the rest of
// the module needs: guest registration and login, room lifecycle calls, event
// sending, history paging, and sync plumbing. It also classifies protocol
// errors into the categories callers branch on.
package matrix

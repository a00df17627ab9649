// Package session persists the customer-side conversation state: the
// provisioned guest identity, the active room pointer, and the per-department
// room history. Records expire after 30 days of inactivity and writes are
// merges rather than overwrites so concurrent tabs do not clobber each other.
package session

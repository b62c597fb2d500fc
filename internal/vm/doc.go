// Package vm provides high-level operations on domains, networks and
// storage pools.
//
// Two things are kept apart:
//   - Capabilities are computed from a record's stored state only and tell
//     a caller which operations make sense right now.
//   - Operations issue the remote call and then refetch the record in
//     update-only mode so the store reflects the outcome without waiting
//     for the event feed.
//
// Error Handling:
//
// An operation that the record's capabilities rule out fails with
// ErrNotPermitted before any remote call. Device snippets are validated
// first and fail with descriptor.ErrInvalidDevice. Remote failures are
// returned as *libvirt.RemoteCallError. Unlike the fetchers, operations
// surface every fault to the caller.
package vm

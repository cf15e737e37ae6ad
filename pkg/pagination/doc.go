// Package pagination drives incremental page fetching for the wall.
//
// The Coordinator requests one page each time the sentinel element at the
// end of the list becomes visible. It keeps at most one page fetch in
// flight, retries failed pages with exponential backoff, and stops when a
// page comes back empty or the loaded count reaches the total.
//
// Example usage:
//
//	coord, err := pagination.NewCoordinator(loop, source, loader, pagination.DefaultConfig(), logger)
//	detector.Observe("sentinel", visibility.Repeating, coord.OnSentinelVisible)
//	coord.RequestTotalCount()
//
// The coordinator:
//   - Appends pages strictly in order and never past a known total
//   - Leaves the page index untouched when a fetch fails
//   - Halts after MaxRetries consecutive failures until Reset
//   - Resolves the total count with an independent retry sequence
package pagination

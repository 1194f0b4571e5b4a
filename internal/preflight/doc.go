// Package preflight provides readiness checks for the services and
// filesystem paths that bookdrop depends on.
//
// These checks run in two contexts:
//   - The workflow manager verifies the download and state directories
//     before a run so a doomed batch fails before touching the wishlist.
//   - The CLI "bookdrop check" command calls RunAll to display the health of
//     every dependency, including SMTP and catalog reachability.
package preflight

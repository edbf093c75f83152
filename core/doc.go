// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

/*
Package core holds the concepts and pure logic of the router operator's
domain: relation events, backend topology, secret refs and the
reconciliation state machine.

When adding to core:

  - it's fine to import from any subpackage of core
  - never import from internal or cmd
  - no I/O, no goroutines, no mutable global state

Anything that touches the workload, the filesystem or the relation
transport belongs under internal.
*/
package core

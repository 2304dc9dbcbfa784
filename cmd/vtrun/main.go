// Command vtrun is a minimal CLI entry point exercising
// runtime.Initialize (§6 "initialize(argc, argv, comm[, config])"):
// --vt_* flags configure the runtime, --vt_help prints the option list
// and exits 0 (handled inside cmn/config.Load), and any other failure
// exits nonzero (§7 "usage error ... aborts the process").
//
// There is no real MPI/UCX binding in this pack (xport/local's package
// doc comment explains why), so vtrun always drives a single-rank
// loopback transport: this binary demonstrates the wiring, not a
// multi-process deployment.
package main

import (
	"fmt"
	"os"

	"github.com/amt-rt/vt/node"
	"github.com/amt-rt/vt/runtime"
	"github.com/amt-rt/vt/xport/local"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(argv []string) int {
	fab := local.NewFabric(1)
	ep := fab.Endpoint(node.T(0))

	rt, rest, err := runtime.Initialize(argv, node.T(0), 1, ep)
	if err != nil {
		fmt.Fprintln(os.Stderr, "vtrun:", err)
		return 1
	}
	if len(rest) > 0 {
		fmt.Fprintln(os.Stderr, "vtrun: unrecognized arguments:", rest)
	}

	// Nothing was submitted, so this drains to idle almost immediately;
	// vtrun exists to exercise Initialize/Finalize, not to run a
	// workload.
	for i := 0; i < 64 && rt.Progress() > 0; i++ {
	}

	if err := rt.Finalize(); err != nil {
		fmt.Fprintln(os.Stderr, "vtrun:", err)
		return 1
	}
	return 0
}

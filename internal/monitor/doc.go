// Package monitor runs collection cycles: one pass over every selected
// target that produces one HostStatus per target.
//
// # Cycle
//
// Collect works through these steps in order:
//
//  1. Select enabled targets, optionally by tag. None selected ends the cycle.
//  2. Connect the bastion once. If that fails, every target is reported
//     unreachable and the cycle returns a BASTION error.
//  3. Fan out, admitting at most max_concurrent_connections hosts at a time.
//  4. Per host: connect through the bastion, check for docker, list all
//     containers, sample usage, merge.
//  5. Wait for every host.
//  6. Close every connection, target and bastion alike.
//
// # Outcomes
//
// A host failure is data, never an error from Collect:
//
//	healthy              connected, docker answered, containers listed
//	unreachable          connect failed (Error and ErrorCode say why)
//	runtime_unavailable  connected, docker CLI missing or unusable
//	collection_failed    docker answered, but ps or stats failed
//
// # Snapshot
//
// Snapshot keeps the latest cycle for the dashboard and the metrics
// endpoint. Refresh is single-flight, so a keypress and a timer firing
// together run one cycle.
package monitor

// Package plugin defines the analyzer contract and the registry that catalogs
// analyzers by domain and name.
//
// A plugin implements Info and Analyze. Optional behavior is declared by also
// implementing BatchSupporter, DependencyDeclarer or CacheStrategist; the
// registry probes these once at registration and records the result in the
// plugin's Descriptor.
//
// Registration rejects anything that does not implement Plugin with
// missing-plugin-contract, and a plugin whose Info panics or lacks a name,
// version or description with plugin-info-exception. A rejected plugin is
// never retrievable.
//
// Run is the single place a plugin is invoked. It recovers panics, turns
// returned errors into plugin-exception failures (timeouts keep their code)
// and logs the outcome, so a faulty analyzer can never take a report down.
package plugin

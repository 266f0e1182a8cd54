// Package discovery maps the user-facing discovery choice to the network
// discovery configuration consumed by the networking subsystem.
//
// There are four modes:
//
//   - Full: DHT-based discovery with no namespace restriction.
//   - Shuttle (default): connect to a fixed, versioned list of relay
//     addresses, overridable through the SHUTTLE_ADDR_POINT variable.
//   - FixedPoint: discovery restricted to one statically supplied address.
//   - Disabled: no discovery at all.
//
// Resolve runs once, when the backend configuration is built:
//
//	cfg, err := discovery.Resolve(mode, os.LookupEnv)
//	if err != nil {
//	    // ErrInvalidAddress: the process should not start
//	}
//
// Resolve is deterministic for a given mode and override value. Unparseable
// override entries are dropped; an empty or fully invalid override falls back
// to the default shuttle list.
package discovery

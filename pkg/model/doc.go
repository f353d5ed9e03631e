// Package model holds the in-memory picture of the MRCs a client talks to.
//
// # Hierarchy
//
//	Registry
//	└── MRC (mc://10.0.0.5:4001)
//	    ├── Device 0:3   idc=17 rc=on
//	    │   └── parameter cache {0: 1200, 1: -5, ...}
//	    └── Device 1:0   idc=20 rc=off conflict
//
// An MRC is identified by its connection URL, unique within a Registry. A
// Device is identified by its DeviceKey (bus, address), unique within its
// MRC. Devices do not point back to their MRC; callers pass keys.
//
// # Ownership
//
// The parameter cache of a Device is written by the controller that owns the
// MRC, from its response handlers. Other goroutines may read concurrently;
// every type guards its fields with a RWMutex and hands out copies.
package model

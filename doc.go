// Package nms is the communication and event core of a network-management
// platform built around the GNS3 network emulator.
//
// # Architecture
//
// The platform is a set of loosely coupled modules (discovery, monitoring,
// inventory, network control, external integrations) that exchange typed
// messages through a central delivery engine instead of calling each other
// directly:
//
//	┌────────────────────────────────────┐
//	│              hub                   │  public facade, lifecycle
//	└────────────────────────────────────┘
//	      ↓ wires
//	┌──────────┐ ┌──────────┐ ┌──────────┐
//	│ registry │ │   bus    │ │ workflow │  modules, delivery, flows
//	└──────────┘ └──────────┘ └──────────┘
//	      ↓ state and fanout
//	┌──────────┐ ┌──────────┐ ┌──────────┐
//	│ netstate │ │statecache│ │ realtime │  cached topology, websockets
//	└──────────┘ └──────────┘ └──────────┘
//	      ↓ emulator
//	┌────────────────────────────────────┐
//	│           gns3 gateway             │  REST client, rate limited
//	└────────────────────────────────────┘
//
// Messages carry a priority, a retry budget and a timeout deadline. The bus
// drains strictly by priority, retries transient failures, dead-letters
// exhausted messages and expires overdue in-flight work. Events fan out to
// websocket subscribers filtered by category subscription.
//
// The nmsd daemon under cmd/ wires everything from a YAML configuration.
package nms

// Package eventflow provides a typed event envelope for microservice
// pipelines: CloudEvents-style attributes, JSON Schema payload validation,
// correlation and causation chaining, and trace context propagation.
//
// The envelope is the unit of exchange for every component in this module.
// Subpackages build on it:
//
//   - schema: versioned schema registry with migration chains
//   - broker: transport abstraction plus an in-memory partitioned broker
//   - publisher: resilient publishing (retry, circuit breaker, batching)
//   - consumer: handler dispatch and batch consumption
//   - process: router, batcher, replayer, pipeline and stream primitives
//   - dedup: TTL-backed duplicate suppression stores
//
// # Creating events
//
//	env, err := eventflow.New(eventflow.Attributes{
//	    eventflow.AttrType:   "order.placed",
//	    eventflow.AttrSource: "/services/checkout",
//	}, order)
//
// Missing id, time, specversion and datacontenttype are filled with
// defaults. Supplying a JSON Schema validates the payload at creation:
//
//	env, err := eventflow.New(attrs, order, eventflow.WithSchema(orderSchema))
//
// # Chaining
//
// Response derives a child event that shares the parent's correlation id
// and records the parent's id as its causation id:
//
//	child, err := parent.Response("order.validated", result)
//
// Every member of a chain built this way carries the correlation id of the
// chain's first event, and each member's causation id is the id of its
// immediate parent.
package eventflow

/*
Package api implements conaryd's control surface: a local daemon that owns
the database connection, serializes transactions through pkg/jobqueue, and
exposes install/remove/update/rollback/query operations to the CLI over a
plain HTTP+JSON protocol.

# Why not gRPC

spec.md treats "CLI/daemon/IPC glue" as an external collaborator specified
only through its interface with the transaction/resolver/store core — the
wire protocol itself is explicitly illustrative, not load-bearing. The
teacher's own pkg/api is generated from a warren.proto that protoc compiles
into api/proto/warren.pb.go; that generated package is not part of this
tree, and hand-authoring protobuf's generated internals (wire marshaling,
protoreflect descriptors) without protoc available is a correctness risk
for exactly the layer the spec says doesn't need to be load-bearing. So
this package keeps the teacher's other HTTP idiom instead — the one
pkg/health already uses for its own liveness endpoints (http.ServeMux,
encoding/json, a *http.Server with explicit timeouts) — and applies it to
the daemon's primary surface as well as its health checks.

# Endpoints

	POST   /v1/jobs            enqueue a job (install/remove/update/rollback/gc)
	GET    /v1/jobs             list jobs, optionally filtered by ?status=
	GET    /v1/jobs/{id}        fetch one job
	DELETE /v1/jobs/{id}        cancel a queued or running job
	GET    /v1/troves           query installed troves, optionally ?name=
	GET    /health              liveness
	GET    /ready                readiness (DB + recovery state)
	GET    /metrics             Prometheus exposition

# Worker loop

The daemon runs one worker goroutine that dequeues jobs and executes them
through pkg/txn serially — mirroring spec.md's "the daemon's job queue is
the concurrent layer, and it simply serialises transactions" note. HTTP
handlers only enqueue and report; they never drive a transaction directly.

# Read-only socket

ReadOnlyMiddleware restricts a handler to GET/HEAD, the HTTP analogue of
the teacher's gRPC ReadOnlyInterceptor for its Unix-socket listener: local,
unauthenticated callers get query access only, and any write needs the
primary (authenticated) listener.
*/
package api

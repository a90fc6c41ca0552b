/*
Package client is a Go client library for conaryd's HTTP control surface.

It wraps net/http with a convenient, idiomatic interface: enqueue a job,
poll or wait for it, cancel it, and query installed troves, all using the
same types the daemon itself uses (jobqueue.Job, storage.Trove) rather than
a parallel set of wire structs.

# Usage

	c, err := client.NewClient("unix:///run/conaryd.sock")
	job, err := c.EnqueueJob(ctx, jobqueue.KindInstall, installSpec)
	done, err := c.WaitForJob(ctx, job.ID, time.Second)

# Why not gRPC

See pkg/api's package doc: conaryd's wire protocol is a plain HTTP+JSON
surface, not generated from a .proto file, so this client is a thin
net/http wrapper rather than a generated stub.
*/
package client

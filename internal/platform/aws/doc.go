// Package aws wraps the EC2 and SSM APIs behind a region-qualified client
// interface.
//
// The publishing pipeline talks to several regions during one run, so every
// method takes the region explicitly and the real client keeps one EC2 client
// per region, all derived from a single shared aws.Config. The MockClient
// mirrors the interface with per-method function hooks and call counters for
// tests.
package aws

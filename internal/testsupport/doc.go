// Package testsupport provides fake-daemon harnesses shared by transport,
// journal, and CLI tests. The Script harness drives an in-memory stream for
// deterministic frame ordering; Daemon listens on a real Unix socket for
// tests that exercise Dial.
package testsupport

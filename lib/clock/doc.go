// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time operations behind a small interface so
// that timing-sensitive code (poll loops, liveness heartbeats, rate
// limit backoff) can be tested deterministically.
//
// Production code injects Real(), a thin wrapper over the time
// package. Tests inject Fake(), where time stands still until the test
// calls Advance. Pending timers, tickers, and sleeps fire in deadline
// order as the fake clock moves past them.
package clock

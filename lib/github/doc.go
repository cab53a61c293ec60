// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package github provides a typed, read-only GitHub REST API client
// for the monitor: token authentication, preemptive rate limit
// waiting with backoff on 403/429, ETag conditional requests, and
// Link-header pagination over the list endpoints the change detector
// consumes.
package github

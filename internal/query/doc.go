// Lumeo - Privacy-first Web Analytics and Scheduled Email Reporting
// Copyright 2026 Lumeo Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lumeo-analytics/lumeo

// Package query implements the allowlist-governed analytics query layer.
//
// A caller's privilege mode decides the vocabulary it may query with: strict
// callers (public dashboards, share links) are limited to a fixed safe
// ceiling of metrics and filter keys, full callers (admin API) get the
// complete vocabulary plus free-form SQL fragments. All input flows through
// three stages:
//
//  1. Resolve: compute the permitted metrics, filter keys, group-by fields
//     and order-by expressions for the caller, applying registered
//     contributors in declared order.
//  2. Sanitize: validate a raw filter mapping against the resolved
//     allowlist, dropping anything not permitted. Rejections are logged,
//     never raised; an analytics query degrades instead of failing.
//  3. Describe: accumulate the sanitized result in a Descriptor, the single
//     mutation point guaranteeing that no field bypasses sanitization, and
//     render it to parameterized SQL.
package query

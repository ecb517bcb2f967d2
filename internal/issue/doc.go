// SPDX-License-Identifier: MPL-2.0

// Package issue provides user-facing error context and a catalog of known
// failure classes with rendered guidance. ActionableError carries the
// operation, resource, and fix suggestions for the CLI boundary; the Issue
// catalog maps each fatal build failure class to markdown help shown in
// verbose mode.
package issue

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared by the coca packages.
//
// # Key Functions
//
// Display:
//   - TruncateWidth: cell-width aware truncation with ellipsis
//   - PadRight: pad a string to a display width
//   - OneLine: collapse whitespace so previews fit on one row
//
// Files:
//   - AtomicWriteFile: crash-safe file writing with fsync
//   - ExpandHome: resolve a leading "~/" against the user's home directory
//
// # Usage
//
//	title := util.TruncateWidth(session.Title, 40)
//	err := util.AtomicWriteFile(path, data, 0600)
package util

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the lifedash command tree.
//
// Commands are built with cobra. Each command loads the configuration,
// opens the log file and creates a backend client through the shared app
// value; interactive commands additionally start a session.Manager.
//
// Commands:
//
//	lifedash                          Full-screen chat (same as "tui")
//	lifedash chat                     Line-mode chat with slash commands
//	lifedash ask "text" [--image p]   One-shot question
//	lifedash conversations ...        list, show, rename, delete, export
//	lifedash profiles ...             list, use, test
//	lifedash config ...               show, init, path, get, set
//	lifedash version                  Print the version
//
// Global flags:
//
//	--config PATH    Config file (TOML, YAML or JSON)
//	--backend URL    Override backend.url
//	--debug          Mirror log lines to stderr at debug level
package cli

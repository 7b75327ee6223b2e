// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package telemetry records chat turn statistics for the current process.
//
// Collectors live in a private Prometheus registry so nothing leaks into the
// default one. Nothing is exported or transmitted; Summary reads the
// registry back for the /stats command.
//
// # Usage
//
//	stats := telemetry.New()
//	orch := chat.New(client, chat.WithRecorder(stats))
//	...
//	fmt.Println(stats.Summary())
package telemetry

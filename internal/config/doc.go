// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads and validates lifedash settings.
//
// The config file is TOML at ~/.lifedash/config.toml. A path given with
// --config may also be YAML (.yaml, .yml) or JSON (.json). Loading applies,
// in order: built-in defaults, the file, LIFEDASH_* environment overrides,
// default filling and validation.
//
// # Sections
//
//   - backend: url, timeout, stream_idle_timeout
//   - chat: temperature, top_p, max_tokens, system_prompt
//   - ui: theme, render_markdown, confirm_extractions, stream_fps
//   - storage: dir, outbox_retry_per_second
//
// Watch reloads the file when it changes so edited [chat] values reach the
// next turn without a restart.
package config

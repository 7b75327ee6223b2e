// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package extract turns finished assistant replies into domain records.
//
// After a turn finalizes, the reply is sent to the backend parser in the
// background. A non-empty result becomes the pending record, which is only
// written to the domain modules when the user confirms it. Parse failures
// are logged and never reach the chat.
package extract

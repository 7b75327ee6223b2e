// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"bytes"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jeranaias/lifedash-tui/internal/model"
)

// =============================================================================
// YAML EXPORTER
// =============================================================================

// YAMLExporter exports conversations as YAML documents.
type YAMLExporter struct {
	options *Options
}

type yamlConversation struct {
	ID       string        `yaml:"id,omitempty"`
	Title    string        `yaml:"title"`
	Created  *time.Time    `yaml:"created,omitempty"`
	Updated  *time.Time    `yaml:"updated,omitempty"`
	Messages []yamlMessage `yaml:"messages"`
}

type yamlMessage struct {
	Role      string     `yaml:"role"`
	Content   string     `yaml:"content"`
	Timestamp *time.Time `yaml:"timestamp,omitempty"`
	HasImage  bool       `yaml:"has_image,omitempty"`
}

// NewYAMLExporter creates a new YAML exporter.
func NewYAMLExporter(opts *Options) *YAMLExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &YAMLExporter{options: opts}
}

// Export converts a conversation to YAML. Timestamps are dropped when
// IncludeTimestamps is off.
func (e *YAMLExporter) Export(conv *model.Conversation) ([]byte, error) {
	if conv == nil {
		return nil, ErrNoConversation
	}

	doc := yamlConversation{
		ID:       conv.ID,
		Title:    conv.GetTitle(),
		Messages: make([]yamlMessage, 0, len(conv.Messages)),
	}
	if e.options.IncludeMetadata {
		doc.Created = timePtr(conv.CreatedAt)
		doc.Updated = timePtr(conv.UpdatedAt)
	}
	for _, msg := range conv.Messages {
		m := yamlMessage{
			Role:     string(msg.Role),
			Content:  msg.Content,
			HasImage: msg.HasImage,
		}
		if e.options.IncludeTimestamps {
			m.Timestamp = timePtr(msg.Timestamp)
		}
		doc.Messages = append(doc.Messages, m)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode yaml: %w", err)
	}
	return buf.Bytes(), nil
}

// FileExtension returns the file extension for YAML.
func (e *YAMLExporter) FileExtension() string {
	return ".yaml"
}

// MimeType returns the MIME type for YAML.
func (e *YAMLExporter) MimeType() string {
	return "application/yaml"
}

func timePtr(ts model.Timestamp) *time.Time {
	if ts.IsZero() {
		return nil
	}
	t := ts.Time
	return &t
}

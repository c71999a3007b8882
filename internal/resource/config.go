// Package resource models the declarative resource configuration carried by a
// deployment request. The payload is opaque to most of the system; only the
// type discriminator, the resource identifier and the pipeline list are
// interpreted here.
package resource

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Kind discriminates resource configuration variants.
type Kind string

const (
	KindVectorStore          Kind = "vectorstore"
	KindOpenSearch           Kind = "opensearch"
	KindPGVector             Kind = "pgvector"
	KindBedrockKnowledgeBase Kind = "bedrock_knowledge_base"
	KindMCPServer            Kind = "mcp_server"
)

var (
	// ErrMissingConfig signals a request without a resource configuration payload.
	ErrMissingConfig = errors.New("resource: missing resourceConfig")
	// ErrInvalidConfig signals a payload that decoded but failed validation.
	ErrInvalidConfig = errors.New("resource: invalid resourceConfig")
)

// Pipeline describes one managed ingestion pipeline attached to a repository.
type Pipeline struct {
	EmbeddingModel string `json:"embeddingModel"`
	ChunkSize      int    `json:"chunkSize"`
	ChunkOverlap   int    `json:"chunkOverlap"`
	TriggerType    string `json:"trigger"`
}

// Config is the validated form of a resource configuration payload.
type Config struct {
	Kind      Kind
	ID        string
	Pipelines []Pipeline
	Raw       json.RawMessage
}

type rawConfig struct {
	Type         string     `json:"type"`
	RepositoryID string     `json:"repositoryId"`
	ServerID     string     `json:"serverId"`
	ID           string     `json:"id"`
	Pipelines    []Pipeline `json:"pipelines"`
}

// Parse validates a raw resourceConfig payload at the boundary.
func Parse(raw json.RawMessage) (Config, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return Config{}, ErrMissingConfig
	}
	var rc rawConfig
	if err := json.Unmarshal(raw, &rc); err != nil {
		return Config{}, fmt.Errorf("%w: decode: %v", ErrInvalidConfig, err)
	}
	kind := Kind(strings.ToLower(strings.TrimSpace(rc.Type)))
	switch kind {
	case KindVectorStore, KindOpenSearch, KindPGVector, KindBedrockKnowledgeBase, KindMCPServer:
	case "":
		return Config{}, fmt.Errorf("%w: type is required", ErrInvalidConfig)
	default:
		return Config{}, fmt.Errorf("%w: unsupported type %q", ErrInvalidConfig, rc.Type)
	}
	id := firstNonEmpty(rc.RepositoryID, rc.ServerID, rc.ID)
	if id == "" {
		return Config{}, fmt.Errorf("%w: resource identifier is required", ErrInvalidConfig)
	}
	return Config{
		Kind:      kind,
		ID:        id,
		Pipelines: rc.Pipelines,
		Raw:       raw,
	}, nil
}

// NeedsStack reports whether this configuration provisions a dedicated stack.
// A Bedrock knowledge base without managed pipelines lives entirely in the
// externally-managed service; no infrastructure of our own is created for it.
func (c Config) NeedsStack() bool {
	switch c.Kind {
	case KindBedrockKnowledgeBase:
		return len(c.Pipelines) > 0
	default:
		return true
	}
}

// StackComponent returns the fixed literal joined into the stack identifier.
func (c Config) StackComponent() string {
	if c.Kind == KindMCPServer {
		return "mcp-server"
	}
	return "vector-store"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

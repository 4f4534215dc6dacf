package openai

import (
	"errors"
	"fmt"
)

// ToolTypeFileSearch is the retrieval tool attached to every synchronized
// assistant.
const ToolTypeFileSearch = "file_search"

// ChatMessage is one role/content pair on the completion path.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Tool is an assistant tool definition.
type Tool struct {
	Type string `json:"type"`
}

// FileSearchResources lists the knowledge stores a file_search tool reads.
type FileSearchResources struct {
	VectorStoreIDs []string `json:"vector_store_ids"`
}

// ToolResources binds tools to their backing resources.
type ToolResources struct {
	FileSearch *FileSearchResources `json:"file_search,omitempty"`
}

// Assistant is the provider-side assistant object.
type Assistant struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Model         string         `json:"model"`
	Instructions  string         `json:"instructions"`
	Tools         []Tool         `json:"tools"`
	ToolResources *ToolResources `json:"tool_resources,omitempty"`
}

// HasFileSearch reports whether the retrieval tool is configured.
func (a Assistant) HasFileSearch() bool {
	for _, t := range a.Tools {
		if t.Type == ToolTypeFileSearch {
			return true
		}
	}
	return false
}

// LinkedStoreIDs returns the knowledge-store ids bound to file_search.
func (a Assistant) LinkedStoreIDs() []string {
	if a.ToolResources == nil || a.ToolResources.FileSearch == nil {
		return nil
	}
	return a.ToolResources.FileSearch.VectorStoreIDs
}

// LinkedTo reports whether the assistant reads from the given store.
func (a Assistant) LinkedTo(storeID string) bool {
	for _, id := range a.LinkedStoreIDs() {
		if id == storeID {
			return true
		}
	}
	return false
}

// AssistantParams is the create/update payload for assistants.
type AssistantParams struct {
	Name          string         `json:"name,omitempty"`
	Model         string         `json:"model,omitempty"`
	Instructions  string         `json:"instructions,omitempty"`
	Tools         []Tool         `json:"tools,omitempty"`
	ToolResources *ToolResources `json:"tool_resources,omitempty"`
}

// VectorStore is the provider-side knowledge store.
type VectorStore struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Session is a provider-side conversation session.
type Session struct {
	ID string `json:"id"`
}

// StreamEvent is the unified relay event for both wire protocols: plain
// completion deltas and run-lifecycle events surface the same way.
type StreamEvent struct {
	Delta string
	Done  bool
	Err   error
}

// APIError carries a non-2xx provider response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("openai: status %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a provider 404. Stored external
// references are treated as stale when this holds.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == 404
}

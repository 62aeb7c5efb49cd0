package types

import "time"

// MemorygramType classifies a memorygram by its role in the conversation graph.
type MemorygramType string

const (
	// TypeUserInput marks a memorygram holding a raw user message.
	TypeUserInput MemorygramType = "UserInput"

	// TypeAssistantResponse marks a memorygram holding an assistant reply.
	TypeAssistantResponse MemorygramType = "AssistantResponse"

	// TypeExperience marks the per-chat running summary node. Exactly one
	// Experience memorygram exists per chat id.
	TypeExperience MemorygramType = "Experience"

	// TypeMemory marks a general memory not bound to any chat.
	TypeMemory MemorygramType = "Memory"
)

// SubtypeChat marks memorygrams that participate in a chat's previous/next chain.
const SubtypeChat = "Chat"

// FacetEmbeddings is the fixed four-vector embedding record for a memorygram.
// Each facet is embedded independently on the store's write path. A facet with
// no text still carries a defined zero vector rather than being omitted, so the
// record shape is static and "missing facet" is a checkable state.
type FacetEmbeddings struct {
	Topical  []float32 `json:"topical,omitempty"`  // What topic the content is about
	Content  []float32 `json:"content,omitempty"`  // What was actually said
	Context  []float32 `json:"context,omitempty"`  // The surrounding situation
	Metadata []float32 `json:"metadata,omitempty"` // Structured metadata view
}

// IsZero reports whether no facet vector has been populated yet.
func (f FacetEmbeddings) IsZero() bool {
	return len(f.Topical) == 0 && len(f.Content) == 0 &&
		len(f.Context) == 0 && len(f.Metadata) == 0
}

// Vectors returns the four facet vectors in declaration order.
// Entries may be nil for records written before embedding completed.
func (f FacetEmbeddings) Vectors() [][]float32 {
	return [][]float32{f.Topical, f.Content, f.Context, f.Metadata}
}

// Memorygram is a single stored unit of memory: a user message, an assistant
// reply, a derived Experience summary, or a general memory. Memorygrams within
// one chat form a doubly-linked chain via PreviousID/NextID so that chat history
// reads are ordered by the chain, not by write arrival order.
type Memorygram struct {
	// Core identification fields
	ID      string         `json:"id"`                // Unique identifier (format: gram:uuid or exp:chat-id)
	Content string         `json:"content"`           // Raw memory content
	Type    MemorygramType `json:"type"`              // Memorygram type
	Subtype string         `json:"subtype,omitempty"` // Optional subtype (e.g. "Chat")
	Source  string         `json:"source,omitempty"`  // Source of the memory (e.g. "chat", "import")

	// Embeddings (one vector per facet, fixed shape)
	Embeddings FacetEmbeddings `json:"embeddings"`

	// Timestamps
	Timestamp int64     `json:"timestamp"`  // Logical timestamp within a chat
	CreatedAt time.Time `json:"created_at"` // When the memorygram was first stored
	UpdatedAt time.Time `json:"updated_at"` // Last update timestamp

	// Chat chain fields
	ChatID     string `json:"chat_id,omitempty"`     // Owning chat, empty for chat-unbound memories
	PreviousID string `json:"previous_id,omitempty"` // Previous memorygram in the chat chain
	NextID     string `json:"next_id,omitempty"`     // Next memorygram in the chat chain
	Sequence   int64  `json:"sequence,omitempty"`    // Position within the chat, 1-indexed
}

// IsChatBound reports whether the memorygram belongs to a chat.
// Associative retrieval during planning is restricted to chat-unbound memories.
func (m *Memorygram) IsChatBound() bool {
	return m.ChatID != ""
}

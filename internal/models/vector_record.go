package models

// Field names of every vector collection. The payload schema is fixed:
// identifiers, owning-entity metadata and the embedding-model identifier.
// Raw text is never part of a vector payload; any additional field is a
// contract violation.
const (
	VectorFieldID             = "id"
	VectorFieldOwnerID        = "owner_entity_id"
	VectorFieldOwnerType      = "owner_entity_type"
	VectorFieldProjectID      = "project_id"
	VectorFieldCreatedAt      = "created_at"
	VectorFieldEmbeddingModel = "embedding_model"
	VectorFieldEmbedding      = "embedding"
)

// OwnerType names the kind of relational row a VectorRecord mirrors.
type OwnerType string

const (
	OwnerDocChunk    OwnerType = "doc_chunk"
	OwnerThread      OwnerType = "thread"
	OwnerEvent       OwnerType = "event"
	OwnerChatMessage OwnerType = "chat_message"
)

// VectorRecord mirrors one relational row 1:1 by ID into a vector
// collection. The relational store remains the sole source of truth for
// text; the record exists only to make the row reachable by similarity
// search.
type VectorRecord struct {
	ID             string
	OwnerID        string
	OwnerType      OwnerType
	ProjectID      string
	CreatedAt      int64
	EmbeddingModel string
	Embedding      []float32
}

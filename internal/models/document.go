package models

import "time"

// Doc represents one ingested source: an uploaded file or a knowledge item.
// The raw text of a Doc lives only in its DocChunk rows.
type Doc struct {
	DocID      string `gorm:"primaryKey;size:36"`
	ProjectID  string `gorm:"index;not null;size:64"`
	Title      string `gorm:"size:512;not null"`
	Source     string `gorm:"size:255"`
	Collection string `gorm:"size:128;not null"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (Doc) TableName() string { return "docs" }

// DocChunk is a contiguous text span of a Doc. It is the sole place raw
// text is stored; the vector index only ever mirrors its ID. ContentHash
// is unique per Doc so re-ingesting identical text is a no-op.
type DocChunk struct {
	ChunkID     string `gorm:"primaryKey;size:36"`
	DocID       string `gorm:"index:idx_chunk_doc_hash,priority:1;not null;size:36"`
	ChunkIndex  int    `gorm:"not null"`
	Content     string `gorm:"type:text;not null"`
	ContentHash string `gorm:"index:idx_chunk_doc_hash,priority:2,unique;not null;size:64"`
	CreatedAt   time.Time
	Mirrored    bool `gorm:"not null;default:false"`
}

func (DocChunk) TableName() string { return "doc_chunks" }

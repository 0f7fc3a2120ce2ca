package embedding

import "context"

// Embedding 定义了所有 embedding 模型需要实现的接口。
// 对话核心把嵌入计算视为可插拔的外部函数：实现可以随时替换，
// 只要向量维度与集合配置一致。
type Embedding interface {
	// Embed 为单个文本生成嵌入向量。
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch 为一批文本生成嵌入向量。
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// ModelName 返回嵌入模型标识，写入每条向量记录的 embedding_model 字段。
	ModelName() string
}

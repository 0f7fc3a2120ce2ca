package milvus

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"Minerva/internal/config"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"Minerva/internal/models"
)

var (
	instance *MilvusClient
	once     sync.Once
	initErr  error
)

// MilvusClient 包含了 Milvus 客户端实例和相关配置。
type MilvusClient struct {
	Client client.Client        // Milvus 客户端实例。
	Config *config.MilvusConfig // Milvus 配置。
	// 用于控制后台自动刷新协程的取消函数。
	cancelAutoFlush context.CancelFunc
}

// GetClient 使用单例模式创建并返回一个 Milvus 客户端实例。
func GetClient(ctx context.Context, cfg *config.MilvusConfig) (*MilvusClient, error) {
	once.Do(func() {
		c, err := client.NewClient(ctx, client.Config{Address: cfg.Address})
		if err != nil {
			initErr = fmt.Errorf("无法连接到 Milvus: %w", err)
			return
		}
		instance = &MilvusClient{Client: c, Config: cfg}
	})
	return instance, initErr
}

// Close 安全地关闭与 Milvus 的连接。
func (c *MilvusClient) Close() {
	if c.Client != nil {
		c.StopAutoFlush(context.Background())
		c.Client.Close()
	}
}

// HealthCheck 检查 Milvus 连接的健康状况。
func (c *MilvusClient) HealthCheck(ctx context.Context) error {
	if c.Client == nil {
		return fmt.Errorf("Milvus client is nil")
	}
	if _, err := c.Client.ListCollections(ctx); err != nil {
		return fmt.Errorf("Milvus health check failed: %w", err)
	}
	return nil
}

// AllCollections 返回配置中的全部集合名（知识集合 + 线程镜像集合）。
func (c *MilvusClient) AllCollections() []string {
	names := make([]string, 0, len(c.Config.Collections)+1)
	for _, coll := range c.Config.Collections {
		names = append(names, coll.Name)
	}
	if c.Config.ThreadCollection != "" {
		names = append(names, c.Config.ThreadCollection)
	}
	return names
}

// EnsureCollections 确保所有配置的集合存在并已加载。
// 每个集合使用同一个固定 Schema：主键、所属实体的标识、项目标识、
// 时间戳、嵌入模型标识和向量本身。原文永远不进入向量集合。
func (c *MilvusClient) EnsureCollections(ctx context.Context) error {
	for _, name := range c.AllCollections() {
		if err := c.ensureCollection(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

func (c *MilvusClient) ensureCollection(ctx context.Context, name string) error {
	exists, err := c.Client.HasCollection(ctx, name)
	if err != nil {
		return fmt.Errorf("检查集合 '%s' 是否存在时出错: %w", name, err)
	}

	if !exists {
		schema := entity.NewSchema().
			WithName(name).
			WithDescription("id-and-metadata mirror collection").
			WithField(entity.NewField().WithName(models.VectorFieldID).
				WithDataType(entity.FieldTypeVarChar).WithMaxLength(64).WithIsPrimaryKey(true)).
			WithField(entity.NewField().WithName(models.VectorFieldOwnerID).
				WithDataType(entity.FieldTypeVarChar).WithMaxLength(64)).
			WithField(entity.NewField().WithName(models.VectorFieldOwnerType).
				WithDataType(entity.FieldTypeVarChar).WithMaxLength(32)).
			WithField(entity.NewField().WithName(models.VectorFieldProjectID).
				WithDataType(entity.FieldTypeVarChar).WithMaxLength(64)).
			WithField(entity.NewField().WithName(models.VectorFieldCreatedAt).
				WithDataType(entity.FieldTypeInt64)).
			WithField(entity.NewField().WithName(models.VectorFieldEmbeddingModel).
				WithDataType(entity.FieldTypeVarChar).WithMaxLength(128)).
			WithField(entity.NewField().WithName(models.VectorFieldEmbedding).
				WithDataType(entity.FieldTypeFloatVector).WithDim(int64(c.Config.Dim)))

		if err := c.Client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
			return fmt.Errorf("创建集合 '%s' 失败: %w", name, err)
		}

		idx, err := c.buildIndexFromConfig()
		if err != nil {
			return err
		}
		if err := c.Client.CreateIndex(ctx, name, models.VectorFieldEmbedding, idx, false); err != nil {
			return fmt.Errorf("为集合 '%s' 创建索引失败: %w", name, err)
		}
	}

	if err := c.Client.LoadCollection(ctx, name, false); err != nil {
		return fmt.Errorf("加载 Milvus 集合 '%s' 失败: %w", name, err)
	}
	return nil
}

// buildIndexFromConfig 是一个辅助函数，用于从配置构建索引实体。
func (c *MilvusClient) buildIndexFromConfig() (entity.Index, error) {
	metricType := entity.MetricType(c.Config.MetricType)
	if metricType == "" {
		metricType = entity.COSINE
	}

	switch c.Config.IndexType {
	case "", "IVF_FLAT":
		return entity.NewIndexIvfFlat(metricType, 128)
	case "HNSW":
		return entity.NewIndexHNSW(metricType, 8, 96)
	case "AUTOINDEX":
		return entity.NewIndexAUTOINDEX(metricType)
	default:
		return nil, fmt.Errorf("不支持的索引类型: %s", c.Config.IndexType)
	}
}

// FlushAll 手动触发一次刷新操作，将内存中的数据写入磁盘。
func (c *MilvusClient) FlushAll(ctx context.Context) error {
	for _, name := range c.AllCollections() {
		if err := c.Client.Flush(ctx, name, false); err != nil {
			return fmt.Errorf("刷新集合 '%s' 失败: %w", name, err)
		}
	}
	return nil
}

// StartAutoFlush 启动后台自动刷新任务。
func (c *MilvusClient) StartAutoFlush(interval time.Duration) {
	if c.cancelAutoFlush != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancelAutoFlush = cancel

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				flushCtx, flushCancel := context.WithTimeout(context.Background(), 10*time.Second)
				if err := c.FlushAll(flushCtx); err != nil {
					log.Printf("自动刷新 Milvus 集合失败: %v", err)
				}
				flushCancel()
			}
		}
	}()
}

// StopAutoFlush 停止后台自动刷新任务，并执行最后一次刷新以确保数据一致性。
func (c *MilvusClient) StopAutoFlush(ctx context.Context) {
	if c.cancelAutoFlush != nil {
		c.cancelAutoFlush()
		c.cancelAutoFlush = nil

		if err := c.FlushAll(ctx); err != nil {
			log.Printf("停止自动刷新时，最终刷新失败: %v", err)
		}
	}
}

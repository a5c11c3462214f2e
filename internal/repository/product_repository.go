package repository

import (
	"errors"

	"catalog-ingest-go/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProductRepository 是产品目录存储的接口。
// 批量导入以 WithTransaction 包裹一个批次；FindOrCreateByKey 在事务内
// 对已有行加行锁，以便多个文件并发引用同一业务主键时由存储层串行化写入。
type ProductRepository interface {
	// WithTransaction 在一个数据库事务中执行 fn；fn 返回错误时整体回滚。
	WithTransaction(fn func(tx ProductRepository) error) error
	// FindOrCreateByKey 按业务主键查找产品；不存在时返回一个未持久化的新实例。
	FindOrCreateByKey(uniqueKey uint64) (*model.Product, error)
	// Save 持久化产品（新建或更新）。
	Save(product *model.Product) error
}

// productRepository 是 ProductRepository 接口的 GORM 实现。
type productRepository struct {
	db *gorm.DB
}

// NewProductRepository 创建一个新的 ProductRepository 实例。
func NewProductRepository(db *gorm.DB) ProductRepository {
	return &productRepository{db: db}
}

// WithTransaction 在事务中执行 fn，并把绑定到该事务的仓库实例传给它。
func (r *productRepository) WithTransaction(fn func(tx ProductRepository) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return fn(&productRepository{db: tx})
	})
}

// FindOrCreateByKey 按业务主键查找产品并加行锁（SELECT ... FOR UPDATE）。
// 记录不存在不是错误：返回只设置了 UniqueKey 的新实例，由调用方填充属性后 Save。
func (r *productRepository) FindOrCreateByKey(uniqueKey uint64) (*model.Product, error) {
	var product model.Product
	err := r.db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("unique_key = ?", uniqueKey).
		First(&product).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &model.Product{UniqueKey: uniqueKey}, nil
		}
		return nil, err
	}
	return &product, nil
}

// Save 持久化产品记录。
func (r *productRepository) Save(product *model.Product) error {
	return r.db.Save(product).Error
}

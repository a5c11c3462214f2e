// Package csvmap 实现 CSV 表头到产品目录规范字段的映射，
// 以及数据行的清洗与规范化。包内不依赖任何外部状态。
package csvmap

import (
	"errors"
	"strings"
)

// Field 是产品目录的规范字段名。集合是封闭的，随 Product 模型一起演进。
type Field string

const (
	FieldUniqueKey          Field = "UNIQUE_KEY"
	FieldProductTitle       Field = "PRODUCT_TITLE"
	FieldProductDescription Field = "PRODUCT_DESCRIPTION"
	FieldPiecePrice         Field = "PIECE_PRICE"
	FieldSize               Field = "SIZE"
	FieldStyle              Field = "STYLE"
	FieldColorName          Field = "COLOR_NAME"
	FieldMainframeColor     Field = "MAINFRAME_COLOR"
)

// ErrInsufficientColumns 表示表头列数低于配置的下限，
// 通常意味着输入根本不是一个 CSV 文件。
var ErrInsufficientColumns = errors.New("insufficient header columns")

// headerFields 是表头名到规范字段的静态映射表。
// 包含数据源使用的老式拼写（STYLE#、SANMAR_MAINFRAME_COLOR）作为别名。
// 匹配为大小写不敏感的精确匹配，不做模糊匹配。
var headerFields = map[string]Field{
	"UNIQUE_KEY":             FieldUniqueKey,
	"PRODUCT_TITLE":          FieldProductTitle,
	"PRODUCT_DESCRIPTION":    FieldProductDescription,
	"PIECE_PRICE":            FieldPiecePrice,
	"SIZE":                   FieldSize,
	"STYLE":                  FieldStyle,
	"STYLE#":                 FieldStyle,
	"COLOR_NAME":             FieldColorName,
	"MAINFRAME_COLOR":        FieldMainframeColor,
	"SANMAR_MAINFRAME_COLOR": FieldMainframeColor,
}

// HeaderMapping 记录原始列下标到规范字段的映射。
// 没有匹配上任何规范字段的列不出现在映射中。
type HeaderMapping map[int]Field

// BuildMapping 根据表头行构建列映射。
// 每个表头单元格先去除首尾空白并转为大写，再在静态表中精确查找；
// 未识别的列被静默丢弃——带多余厂商列的 CSV 不能导致整个文件失败。
// 表头列数少于 minColumns 时返回 ErrInsufficientColumns。
func BuildMapping(header []string, minColumns int) (HeaderMapping, error) {
	if len(header) < minColumns {
		return nil, ErrInsufficientColumns
	}

	mapping := make(HeaderMapping)
	for i, cell := range header {
		name := strings.ToUpper(strings.TrimSpace(cell))
		if field, ok := headerFields[name]; ok {
			mapping[i] = field
		}
	}
	return mapping, nil
}

package csvmap

import (
	"html"
	"strconv"
	"strings"
)

// registeredMark 是数据源在复合标题里使用的注册商标 HTML 实体。
const registeredMark = "&#174;"

// NormalizedRow 保存一行清洗后的字段值。
// 源数据为空或未映射的字段不出现在行中；价格字段单独以数值保存。
type NormalizedRow struct {
	fields map[Field]string
	price  *float64
}

// Get 返回一个字段的清洗后取值；字段缺失时 ok 为 false。
func (r NormalizedRow) Get(f Field) (string, bool) {
	v, ok := r.fields[f]
	return v, ok
}

// Price 返回解析后的价格；价格缺失或无法解析时 ok 为 false。
func (r NormalizedRow) Price() (float64, bool) {
	if r.price == nil {
		return 0, false
	}
	return *r.price, true
}

// Strings 以规范字段名为键导出整行，用于隔离日志。
func (r NormalizedRow) Strings() map[string]string {
	out := make(map[string]string, len(r.fields)+1)
	for f, v := range r.fields {
		out[string(f)] = v
	}
	if r.price != nil {
		out[string(FieldPiecePrice)] = strconv.FormatFloat(*r.price, 'f', -1, 64)
	}
	return out
}

// Normalize 按映射清洗一行原始数据。
// 行长与表头不一致时不拒绝该行：缺少的尾部单元格按空值处理，多余的单元格被忽略
//（映射里不存在表头之外的下标）。
func Normalize(raw []string, mapping HeaderMapping) NormalizedRow {
	row := NormalizedRow{fields: make(map[Field]string, len(mapping))}

	// 标题列最后处理：拆分出的尾部描述只在该行自身没有描述时生效。
	titleIdx := -1
	for idx, field := range mapping {
		if field == FieldProductTitle {
			titleIdx = idx
			continue
		}
		cleaned := cleanCell(cellAt(raw, idx))
		if field == FieldPiecePrice {
			if p, ok := parsePrice(cleaned); ok {
				row.price = &p
			}
			continue
		}
		if v := html.UnescapeString(cleaned); v != "" {
			row.fields[field] = v
		}
	}

	if titleIdx >= 0 {
		title, desc := splitTitle(cleanCell(cellAt(raw, titleIdx)))
		if title != "" {
			row.fields[FieldProductTitle] = title
		}
		if desc != "" {
			if _, exists := row.fields[FieldProductDescription]; !exists {
				row.fields[FieldProductDescription] = desc
			}
		}
	}
	return row
}

// cellAt 返回下标处的单元格；行比表头短时缺少的尾部单元格按空值处理。
func cellAt(raw []string, idx int) string {
	if idx < len(raw) {
		return raw[idx]
	}
	return ""
}

// cleanCell 修复编码并去掉控制字符与首尾空白。
// 无效的 UTF-8 字节序列被丢弃；剔除 C0 控制区（保留 \t \r \n，随后由
// TrimSpace 处理）以及 C1 区 U+0080–U+009F。
func cleanCell(v string) string {
	v = strings.ToValidUTF8(v, "")
	v = strings.Map(func(r rune) rune {
		switch {
		case r == '\t' || r == '\n' || r == '\r':
			return r
		case r < 0x20:
			return -1
		case r >= 0x80 && r <= 0x9F:
			return -1
		}
		return r
	}, v)
	return strings.TrimSpace(v)
}

// parsePrice 去掉所有非数字、非小数点、非负号的字符后按十进制解析价格。
// 解析失败时该字段按缺失处理，既不是零也不是错误。
func parsePrice(v string) (float64, bool) {
	if v == "" {
		return 0, false
	}
	var b strings.Builder
	for _, r := range v {
		if (r >= '0' && r <= '9') || r == '.' || r == '-' {
			b.WriteRune(r)
		}
	}
	p, err := strconv.ParseFloat(b.String(), 64)
	if err != nil {
		return 0, false
	}
	return p, true
}

// splitTitle 处理复合标题字段。
// 规则（固定且有测试保障）：若清洗后的标题仍包含字面实体 "&#174;"，
// 则在其第一次出现处拆分——标题为实体之前的部分加上解码后的 "®"，
// 实体之后的剩余部分作为尾部描述返回；不含实体的标题原样解码返回。
func splitTitle(v string) (title, descriptor string) {
	i := strings.Index(v, registeredMark)
	if i < 0 {
		return html.UnescapeString(v), ""
	}
	title = strings.TrimSpace(html.UnescapeString(v[:i])) + "®"
	descriptor = strings.TrimSpace(html.UnescapeString(v[i+len(registeredMark):]))
	return title, descriptor
}

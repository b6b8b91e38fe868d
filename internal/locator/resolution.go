package locator

// Outcome 解析结果类型
type Outcome int

const (
	// Unresolved 所有存储层都未给出地址，下次刷新可能成功
	Unresolved Outcome = iota
	// Found 某个存储层给出了地址
	Found
)

// String 返回结果名称
func (o Outcome) String() string {
	if o == Found {
		return "found"
	}
	return "unresolved"
}

// Resolution 定位解析的结果
//
// Unresolved 不代表映射永久丢失，调用方应显示占位内容并在下次刷新时重试。
type Resolution struct {
	Outcome Outcome
	Address string // 完整内容地址，仅 Found 时有效
	Source  string // 给出地址的存储层名称
	Err     error  // 最后一次存储层错误（ErrNotFound 之外），仅用于诊断
}

// IsFound 是否解析成功
func (r Resolution) IsFound() bool {
	return r.Outcome == Found
}

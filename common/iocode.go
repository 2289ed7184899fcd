package common

// IOCode result of every socket level operation
type IOCode int32

const (
	IOCOk      IOCode = iota // 完成
	IOCAgain                 // 就绪模型下暂时无数据或无空间，等待下一次就绪
	IOCPending               // 完成模型下操作已投递，等待完成通知
	IOCClosed                // 对端关闭
	IOCError                 // 出错，连接需要关闭
)

func (c IOCode) String() string {
	switch c {
	case IOCOk:
		return "ok"
	case IOCAgain:
		return "again"
	case IOCPending:
		return "pending"
	case IOCClosed:
		return "closed"
	case IOCError:
		return "error"
	}
	return "unknown"
}

// IOCode.IsRetry would-block results, not errors
func (c IOCode) IsRetry() bool {
	return c == IOCAgain || c == IOCPending
}

// IOCode.IsFatal the connection must be torn down
func (c IOCode) IsFatal() bool {
	return c == IOCClosed || c == IOCError
}

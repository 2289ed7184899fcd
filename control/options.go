package control

// CtrlOptions listener socket options, 1 enables a flag option
type CtrlOptions struct {
	ReuseAddr int
	ReusePort int
	RecvBuf   int // 内核接收缓冲大小，0为系统默认
	SendBuf   int // 内核发送缓冲大小，0为系统默认
}

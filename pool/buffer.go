package pool

import "sync"

const (
	// 每层数量
	oneLayerSize = int32(8)
	// 最大缓存大小
	maxBufSize = int32(1 << 17)
)

var (
	// 每层的步进大小
	layerStepSizeArray = []int32{
		1 << 2, 1 << 3, 1 << 4, 1 << 5, 1 << 6, 1 << 7, 1 << 8, 1 << 9, 1 << 10, 1 << 11, 1 << 12, 1 << 13,
	}
	// 每层的开始大小
	layerStartSizeArray = []int32{
		1 << 5, 1 << 6, 1 << 7, 1 << 8, 1 << 9, 1 << 10, 1 << 11, 1 << 12, 1 << 13, 1 << 14, 1 << 15, 1 << 16,
	}
)

// BufferPool size-classed byte slice pool. Buffers larger than 128K are
// not pooled, they are allocated and left to the GC.
type BufferPool struct {
	buffSizeArray [][oneLayerSize]int32
	pools         [][oneLayerSize]*sync.Pool
	maxSizePool   *sync.Pool
}

// NewBufferPool create new BufferPool instance
func NewBufferPool() *BufferPool {
	buffPool := &BufferPool{
		buffSizeArray: make([][oneLayerSize]int32, len(layerStartSizeArray)),
		pools:         make([][oneLayerSize]*sync.Pool, len(layerStartSizeArray)),
		maxSizePool: &sync.Pool{
			New: func() any {
				b := make([]byte, maxBufSize)
				return &b
			},
		},
	}
	for i := int32(0); i < int32(len(layerStartSizeArray)); i++ {
		for j := int32(0); j < oneLayerSize; j++ {
			s := layerStartSizeArray[i] + j*layerStepSizeArray[i]
			buffPool.buffSizeArray[i][j] = s
			buffPool.pools[i][j] = &sync.Pool{
				New: func() any {
					b := make([]byte, s)
					return &b
				},
			}
		}
	}
	return buffPool
}

// BufferPool.Alloc allocate memory with size and return it's pointer
func (bp *BufferPool) Alloc(size int32) *[]byte {
	pool := bp.findPool(size)
	if pool == nil {
		b := make([]byte, size)
		return &b
	}
	bufp := pool.Get().(*[]byte)
	if int32(cap(*bufp)) < size {
		// a smaller buffer was put back into this class, drop it
		b := make([]byte, size)
		return &b
	}
	buf := (*bufp)[:size]
	return &buf
}

// BufferPool.Free free memory with bytes pointer
func (bp *BufferPool) Free(buffer *[]byte) {
	if buffer == nil {
		return
	}
	c := int32(cap(*buffer))
	pool := bp.findPool(c)
	if pool == nil {
		return
	}
	// only return buffers that fill the whole class
	if c != bp.classSize(c) {
		return
	}
	*buffer = (*buffer)[:c]
	pool.Put(buffer)
}

// classSize returns the buffer size served by the pool holding size
func (bp *BufferPool) classSize(size int32) int32 {
	if size <= layerStartSizeArray[0] {
		return layerStartSizeArray[0]
	}
	if size > bp.buffSizeArray[len(layerStartSizeArray)-1][oneLayerSize-1] {
		return maxBufSize
	}
	for i := range bp.buffSizeArray {
		for j := range bp.buffSizeArray[i] {
			if bp.buffSizeArray[i][j] >= size {
				return bp.buffSizeArray[i][j]
			}
		}
	}
	return maxBufSize
}

// BufferPool.findPool get pool with size
func (bp *BufferPool) findPool(size int32) *sync.Pool {
	if size > maxBufSize {
		return nil
	}
	if size <= layerStartSizeArray[0] {
		return bp.pools[0][0]
	}
	if size > bp.buffSizeArray[len(layerStartSizeArray)-1][oneLayerSize-1] {
		return bp.maxSizePool
	}

	left, right := int32(0), int32(len(layerStartSizeArray)-1)
	if size > layerStartSizeArray[right] {
		left = right
	} else {
		var mid int32
		for left < right {
			mid = (left + right) / 2
			if mid == left || mid == right {
				break
			}
			if size < layerStartSizeArray[mid] {
				right = mid
			} else if size > layerStartSizeArray[mid] {
				left = mid
			} else {
				return bp.pools[mid][0]
			}
		}
	}
	size -= layerStartSizeArray[left]
	size = (size + layerStepSizeArray[left] - 1) / layerStepSizeArray[left]
	if size >= oneLayerSize {
		return bp.pools[left+1][0]
	}
	return bp.pools[left][size]
}

// default BufferPool
var defaultBuffPool *BufferPool

func init() {
	defaultBuffPool = NewBufferPool()
}

// GetBuffPool get default BufferPool
func GetBuffPool() *BufferPool {
	return defaultBuffPool
}

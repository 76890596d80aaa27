package staticlist

// Node 数组槽位, Next为下一个槽位的下标
type Node[T any] struct {
	Data T
	Next int
}

// StaticList 静态链表: 定长数组 + 空闲链, 槽位分配释放O(1)且不产生新的堆分配
type StaticList[T any] struct {
	datas []Node[T]
	free  int
	used  int
	zero  T
}

const Null = -1

func NewStaticList[T any](size int) *StaticList[T] {
	if size < 1 {
		size = 1
	}
	list := &StaticList[T]{
		datas: make([]Node[T], size),
	}
	list.Reset()
	return list
}

// Malloc 分配一个槽位, 满了返回Null
func (list *StaticList[T]) Malloc() int {
	p := list.free
	if p != Null {
		slot := &list.datas[p]
		list.free = slot.Next
		slot.Next = Null
		list.used++
	}
	return p
}

// Free 归还槽位, 清除数据避免持有引用
func (list *StaticList[T]) Free(p int) {
	node := &list.datas[p]
	node.Data = list.zero
	node.Next = list.free
	list.free = p
	list.used--
}

func (list *StaticList[T]) GetNode(p int) *Node[T] {
	return &list.datas[p]
}

func (list *StaticList[T]) Cap() int {
	return len(list.datas)
}

func (list *StaticList[T]) Used() int {
	return list.used
}

func (list *StaticList[T]) Reset() {
	size := len(list.datas)
	for i := 0; i < size-1; i++ {
		list.datas[i].Data = list.zero
		list.datas[i].Next = i + 1
	}
	list.datas[size-1].Data = list.zero
	list.datas[size-1].Next = Null
	list.free = 0
	list.used = 0
}

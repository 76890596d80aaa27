package staticlist

// Stack 定长栈, 元素存放在静态链表槽位里, 不是并发安全的
type Stack[T any] struct {
	pool *StaticList[T]
	top  int
}

func NewStack[T any](cap int) *Stack[T] {
	return &Stack[T]{
		pool: NewStaticList[T](cap),
		top:  Null,
	}
}

// Push 满了返回false
func (s *Stack[T]) Push(data T) bool {
	p := s.pool.Malloc()
	if p == Null {
		return false
	}
	node := s.pool.GetNode(p)
	node.Data = data
	node.Next = s.top
	s.top = p
	return true
}

func (s *Stack[T]) Pop() (data T, ok bool) {
	if s.top == Null {
		return
	}
	p := s.top
	node := s.pool.GetNode(p)
	data = node.Data
	s.top = node.Next
	s.pool.Free(p)
	return data, true
}

func (s *Stack[T]) Len() int {
	return s.pool.Used()
}

func (s *Stack[T]) IsFull() bool {
	return s.pool.Used() == s.pool.Cap()
}

func (s *Stack[T]) Clear() {
	s.pool.Reset()
	s.top = Null
}

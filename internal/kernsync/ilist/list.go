// Package ilist provides a generic intrusive doubly-linked list: the
// link fields live inside the element type itself, so pushing and
// removing elements never allocates. The scheduler's ready queues and
// the wait-queue's sleeper list are both built on this.
package ilist

// Link is the embeddable pair of pointers a list element carries. An
// element type embeds a Link and implements Elem[T] (on its pointer
// receiver) to expose it.
type Link[T any] struct {
	prev, next *T
}

// Elem constrains the pointer type of a list element: E must be *T and
// must expose the embedded Link via a Link() method. The two-type-
// parameter shape (T the element, E its pointer) is required because a
// pointer-receiver Link() method is never in value type T's method set,
// only in *T's — so the constraint is expressed on E = *T directly
// rather than on T itself.
type Elem[T any] interface {
	*T
	Link() *Link[T]
}

// List is an intrusive doubly-linked list of *T values, where E=*T
// supplies the Link() accessor.
type List[T any, E Elem[T]] struct {
	head, tail *T
	size       int
}

// Len returns the number of elements in the list.
func (l *List[T, E]) Len() int { return l.size }

// Front returns the first element, or nil if the list is empty.
func (l *List[T, E]) Front() *T { return l.head }

// Back returns the last element, or nil if the list is empty.
func (l *List[T, E]) Back() *T { return l.tail }

// PushBack appends e to the end of the list. e must not already be a
// member of any list.
func (l *List[T, E]) PushBack(e *T) {
	link := E(e).Link()
	link.prev = l.tail
	link.next = nil
	if l.tail != nil {
		E(l.tail).Link().next = e
	} else {
		l.head = e
	}
	l.tail = e
	l.size++
}

// PushFront prepends e to the start of the list.
func (l *List[T, E]) PushFront(e *T) {
	link := E(e).Link()
	link.next = l.head
	link.prev = nil
	if l.head != nil {
		E(l.head).Link().prev = e
	} else {
		l.tail = e
	}
	l.head = e
	l.size++
}

// Remove unlinks e from the list. e must be a member of this list; the
// caller is responsible for that invariant, mirroring the kernel's
// unchecked intrusive-list removal.
func (l *List[T, E]) Remove(e *T) {
	link := E(e).Link()
	if link.prev != nil {
		E(link.prev).Link().next = link.next
	} else {
		l.head = link.next
	}
	if link.next != nil {
		E(link.next).Link().prev = link.prev
	} else {
		l.tail = link.prev
	}
	link.prev, link.next = nil, nil
	l.size--
}

// Next returns the element following e, or nil at the end of the list.
func Next[T any, E Elem[T]](e *T) *T { return E(e).Link().next }

// Prev returns the element preceding e, or nil at the start of the list.
func Prev[T any, E Elem[T]](e *T) *T { return E(e).Link().prev }

// Empty reports whether the list has no elements.
func (l *List[T, E]) Empty() bool { return l.size == 0 }

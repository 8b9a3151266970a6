package ilist

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type item struct {
	val  int
	link Link[item]
}

func (i *item) Link() *Link[item] { return &i.link }

type itemList = List[item, *item]

func collect(l *itemList) []int {
	var out []int
	for e := l.Front(); e != nil; e = Next[item, *item](e) {
		out = append(out, e.val)
	}
	return out
}

func TestPushBackOrder(t *testing.T) {
	var l itemList
	a, b, c := &item{val: 1}, &item{val: 2}, &item{val: 3}
	l.PushBack(a)
	l.PushBack(b)
	l.PushBack(c)

	require.Equal(t, []int{1, 2, 3}, collect(&l))
	require.Equal(t, 3, l.Len())
	require.Same(t, a, l.Front())
	require.Same(t, c, l.Back())
}

func TestPushFrontOrder(t *testing.T) {
	var l itemList
	a, b := &item{val: 1}, &item{val: 2}
	l.PushFront(a)
	l.PushFront(b)

	require.Equal(t, []int{2, 1}, collect(&l))
}

func TestRemoveMiddle(t *testing.T) {
	var l itemList
	a, b, c := &item{val: 1}, &item{val: 2}, &item{val: 3}
	l.PushBack(a)
	l.PushBack(b)
	l.PushBack(c)

	l.Remove(b)
	require.Equal(t, []int{1, 3}, collect(&l))
	require.Equal(t, 2, l.Len())
	require.Same(t, a, l.Front())
	require.Same(t, c, l.Back())
}

func TestRemoveHeadAndTail(t *testing.T) {
	var l itemList
	a, b := &item{val: 1}, &item{val: 2}
	l.PushBack(a)
	l.PushBack(b)

	l.Remove(a)
	require.Equal(t, []int{2}, collect(&l))
	require.Same(t, b, l.Front())
	require.Same(t, b, l.Back())

	l.Remove(b)
	require.True(t, l.Empty())
	require.Nil(t, l.Front())
	require.Nil(t, l.Back())
}

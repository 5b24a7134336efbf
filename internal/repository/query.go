package repository

import (
	"cmp"
	"fmt"
	"slices"

	"taskReminder/internal/models/task"
)

// View — одна из пяти форм живого запроса
type View int

const (
	// ViewAll — вид по умолчанию: приоритет по убыванию, затем дата
	ViewAll View = iota
	ViewByDate
	ViewByPriority
	ViewPending
	ViewCompleted
)

var Views = []View{ViewAll, ViewByDate, ViewByPriority, ViewPending, ViewCompleted}

var viewNames = map[View]string{
	ViewAll:        "all",
	ViewByDate:     "by-date",
	ViewByPriority: "by-priority",
	ViewPending:    "pending",
	ViewCompleted:  "completed",
}

func (v View) String() string {
	if name, ok := viewNames[v]; ok {
		return name
	}
	return fmt.Sprintf("view(%d)", int(v))
}

func ParseView(s string) (View, error) {
	if s == "" {
		return ViewAll, nil
	}
	for v, name := range viewNames {
		if name == s {
			return v, nil
		}
	}
	return 0, &task.ValidationError{Field: "view", Reason: fmt.Sprintf("неизвестный вид %q", s)}
}

type Filter int

const (
	FilterAny Filter = iota
	FilterPending
	FilterCompleted
)

type Order int

const (
	OrderDueDateAsc Order = iota
	OrderPriorityDesc
	// OrderPriorityDescDueAsc — приоритет по убыванию, внутри приоритета дата по возрастанию
	OrderPriorityDescDueAsc
)

// Query — фильтр и сортировка. При равенстве ключей порядок всегда по id,
// а id монотонны, значит это порядок вставки.
type Query struct {
	Filter Filter
	Order  Order
}

func (v View) Query() Query {
	switch v {
	case ViewByDate:
		return Query{Filter: FilterAny, Order: OrderDueDateAsc}
	case ViewByPriority:
		return Query{Filter: FilterAny, Order: OrderPriorityDesc}
	case ViewPending:
		return Query{Filter: FilterPending, Order: OrderDueDateAsc}
	case ViewCompleted:
		return Query{Filter: FilterCompleted, Order: OrderDueDateAsc}
	default:
		return Query{Filter: FilterAny, Order: OrderPriorityDescDueAsc}
	}
}

func (q Query) Match(t task.Task) bool {
	switch q.Filter {
	case FilterPending:
		return !t.Completed
	case FilterCompleted:
		return t.Completed
	default:
		return true
	}
}

// Compare — порядок запроса для бэкендов, которые сортируют сами
func (q Query) Compare(a, b task.Task) int {
	var c int
	switch q.Order {
	case OrderPriorityDesc:
		c = cmp.Compare(b.Priority, a.Priority)
	case OrderPriorityDescDueAsc:
		c = cmp.Compare(b.Priority, a.Priority)
		if c == 0 {
			c = a.DueAt.Compare(b.DueAt)
		}
	default:
		c = a.DueAt.Compare(b.DueAt)
	}
	if c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// Apply фильтрует и сортирует срез, возвращая новый
func (q Query) Apply(tasks []task.Task) []task.Task {
	res := make([]task.Task, 0, len(tasks))
	for _, t := range tasks {
		if q.Match(t) {
			res = append(res, t)
		}
	}
	slices.SortStableFunc(res, q.Compare)
	return res
}

// SQL — условие WHERE и ORDER BY для реляционных бэкендов
func (q Query) SQL() (where string, orderBy string) {
	switch q.Filter {
	case FilterPending:
		where = "WHERE completed = FALSE"
	case FilterCompleted:
		where = "WHERE completed = TRUE"
	}

	switch q.Order {
	case OrderPriorityDesc:
		orderBy = "ORDER BY priority DESC, id ASC"
	case OrderPriorityDescDueAsc:
		orderBy = "ORDER BY priority DESC, due_at ASC, id ASC"
	default:
		orderBy = "ORDER BY due_at ASC, id ASC"
	}
	return where, orderBy
}

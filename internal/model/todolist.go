package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// TodoList is a block's task collection keyed by task id.
//
// It remembers the order in which keys arrived on the wire. That order carries no
// meaning of its own (the server does not keep it stable), but it is what a
// freshly reset ordered view adopts, so it has to survive decoding.
type TodoList struct {
	keys  []string
	tasks map[string]Task
}

// NewTodoList builds a list keyed by each task's TaskID.
func NewTodoList(tasks ...Task) TodoList {
	var l TodoList
	for _, t := range tasks {
		l.Set(t.TaskID, t)
	}
	return l
}

func (l TodoList) Len() int { return len(l.keys) }

// Keys returns task keys in arrival order.
func (l TodoList) Keys() []string {
	return append([]string(nil), l.keys...)
}

func (l TodoList) Get(key string) (Task, bool) {
	t, ok := l.tasks[key]
	return t, ok
}

// Set inserts or replaces the task under key. New keys are appended.
func (l *TodoList) Set(key string, t Task) {
	if l.tasks == nil {
		l.tasks = map[string]Task{}
	}
	if _, ok := l.tasks[key]; !ok {
		l.keys = append(l.keys, key)
	}
	l.tasks[key] = t
}

func (l *TodoList) Delete(key string) {
	if _, ok := l.tasks[key]; !ok {
		return
	}
	delete(l.tasks, key)
	for i, k := range l.keys {
		if k == key {
			l.keys = append(l.keys[:i:i], l.keys[i+1:]...)
			break
		}
	}
}

// Tasks returns the tasks in arrival order.
func (l TodoList) Tasks() []Task {
	out := make([]Task, 0, len(l.keys))
	for _, k := range l.keys {
		out = append(out, l.tasks[k])
	}
	return out
}

// Clone returns an independent copy.
func (l TodoList) Clone() TodoList {
	out := TodoList{keys: append([]string(nil), l.keys...)}
	if l.tasks != nil {
		out.tasks = make(map[string]Task, len(l.tasks))
		for k, t := range l.tasks {
			out.tasks[k] = t
		}
	}
	return out
}

func (l TodoList) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range l.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		tb, err := json.Marshal(l.tasks[k])
		if err != nil {
			return nil, err
		}
		buf.Write(tb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, keeping key order. null decodes to an
// empty list. Duplicate keys are rejected: the collection would otherwise be
// silently truncated.
func (l *TodoList) UnmarshalJSON(b []byte) error {
	*l = TodoList{}
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("%w: todo_list must be an object, got %v", ErrMalformedBlock, tok)
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("%w: todo_list key %v is not a string", ErrMalformedBlock, tok)
		}
		if _, dup := l.tasks[key]; dup {
			return fmt.Errorf("%w: duplicate todo_list key %q", ErrMalformedBlock, key)
		}
		var t Task
		if err := dec.Decode(&t); err != nil {
			return fmt.Errorf("%w: todo_list[%q]: %v", ErrMalformedBlock, key, err)
		}
		if t.TaskID == "" {
			t.TaskID = key
		}
		l.Set(key, t)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}

package main

import (
	"reflect"
	"testing"
)

func TestRewriteTaskRefArgs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{
			name: "no args",
			in:   []string{"forge"},
			want: []string{"forge"},
		},
		{
			name: "task ref first token",
			in:   []string{"forge", "b1/t1"},
			want: []string{"forge", "tasks", "show", "b1", "t1"},
		},
		{
			name: "task ref after value flag",
			in:   []string{"forge", "--server", "http://127.0.0.1:8080", "b1/t1"},
			want: []string{"forge", "--server", "http://127.0.0.1:8080", "tasks", "show", "b1", "t1"},
		},
		{
			name: "task ref after equals flag",
			in:   []string{"forge", "--format=yaml", "b1/t1"},
			want: []string{"forge", "--format=yaml", "tasks", "show", "b1", "t1"},
		},
		{
			name: "task ref after bool flag",
			in:   []string{"forge", "--offline", "b1/t1"},
			want: []string{"forge", "--offline", "tasks", "show", "b1", "t1"},
		},
		{
			name: "task ref after double dash",
			in:   []string{"forge", "--", "b1/t1"},
			want: []string{"forge", "--", "tasks", "show", "b1", "t1"},
		},
		{
			name: "subcommand untouched",
			in:   []string{"forge", "blocks", "list"},
			want: []string{"forge", "blocks", "list"},
		},
		{
			name: "url is not a ref",
			in:   []string{"forge", "http://host/x"},
			want: []string{"forge", "http://host/x"},
		},
		{
			name: "nested path is not a ref",
			in:   []string{"forge", "a/b/c"},
			want: []string{"forge", "a/b/c"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := rewriteTaskRefArgs(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("got %#v, want %#v", got, tt.want)
			}
		})
	}
}

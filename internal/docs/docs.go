// Package docs holds the help topics shown by `forge docs`. Each topic is a
// markdown file under content/ whose first heading is its title.
package docs

import (
	"bufio"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"strings"
	"sync"
)

//go:embed content/*.md
var contentFS embed.FS

var (
	ErrUnknownTopic   = errors.New("unknown topic")
	ErrAmbiguousTopic = errors.New("ambiguous topic")
)

type Topic struct {
	Name  string `json:"name"`
	Title string `json:"title"`
	Body  string `json:"-"`
}

var loadTopics = sync.OnceValue(func() []Topic {
	var out []Topic
	_ = fs.WalkDir(contentFS, "content", func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		name, ok := strings.CutSuffix(d.Name(), ".md")
		if !ok || name == "" {
			return nil
		}
		b, err := contentFS.ReadFile(p)
		if err != nil {
			return err
		}
		out = append(out, Topic{Name: name, Title: title(string(b), name), Body: string(b)})
		return nil
	})
	slices.SortFunc(out, func(a, b Topic) int { return strings.Compare(a.Name, b.Name) })
	return out
})

func title(md, fallback string) string {
	sc := bufio.NewScanner(strings.NewReader(md))
	for sc.Scan() {
		if h, ok := strings.CutPrefix(sc.Text(), "# "); ok {
			return strings.TrimSpace(h)
		}
	}
	return fallback
}

// Topics lists every topic by name.
func Topics() []Topic {
	return slices.Clone(loadTopics())
}

// Names returns the topic names, sorted.
func Names() []string {
	ts := loadTopics()
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.Name
	}
	return out
}

// Lookup finds a topic by name, ignoring case. A unique prefix is enough:
// "conf" finds "config".
func Lookup(name string) (Topic, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return Topic{}, fmt.Errorf("%w: empty name", ErrUnknownTopic)
	}
	var matches []Topic
	for _, t := range loadTopics() {
		if t.Name == name {
			return t, nil
		}
		if strings.HasPrefix(t.Name, name) {
			matches = append(matches, t)
		}
	}
	switch len(matches) {
	case 0:
		return Topic{}, fmt.Errorf("%w %q", ErrUnknownTopic, name)
	case 1:
		return matches[0], nil
	}
	names := make([]string, len(matches))
	for i, t := range matches {
		names[i] = t.Name
	}
	return Topic{}, fmt.Errorf("%w %q: %s", ErrAmbiguousTopic, name, strings.Join(names, ", "))
}

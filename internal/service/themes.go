package service

import (
	"context"
	"sort"
	"strings"
)

const defaultTopThemes = 5

// stopWords — слова, не несущие тематической нагрузки.
var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "in": true, "on": true,
	"of": true, "to": true, "and": true, "or": true, "for": true,
	"is": true, "are": true, "was": true, "after": true, "up": true,
	"new": true, "with": true, "at": true, "by": true,
}

// ThemesCapability — тематический анализ текстовых полей записей.
//
// Считает частоты значимых слов и возвращает top-N тем.
//
// Output:
//
//	{
//	    "themes": [{"theme": "churn", "mentions": 4}, ...],
//	    "note_count": 24
//	}
type ThemesCapability struct{}

// NewThemesCapability создаёт новую ThemesCapability.
func NewThemesCapability() *ThemesCapability {
	return &ThemesCapability{}
}

// Name возвращает имя capability.
func (c *ThemesCapability) Name() string {
	return CapabilityThemes
}

// Invoke извлекает темы из записей data_retrieval.
func (c *ThemesCapability) Invoke(ctx context.Context, inv *Invocation) (*Result, error) {
	records, err := upstreamRecords(inv)
	if err != nil {
		return nil, err
	}

	notes := recordNotes(records)
	if len(notes) == 0 {
		return nil, ErrNoRecords
	}

	freq := make(map[string]int)
	for _, note := range notes {
		for _, word := range strings.Fields(note) {
			word = strings.Trim(word, ".,!?:;\"'()")
			if len(word) < 3 || stopWords[word] {
				continue
			}
			freq[word]++
		}
	}

	type theme struct {
		word  string
		count int
	}
	themes := make([]theme, 0, len(freq))
	for word, count := range freq {
		themes = append(themes, theme{word, count})
	}
	// При равных частотах — лексикографически, чтобы результат
	// был детерминированным
	sort.Slice(themes, func(i, j int) bool {
		if themes[i].count != themes[j].count {
			return themes[i].count > themes[j].count
		}
		return themes[i].word < themes[j].word
	})

	limit := InputInt(inv.Input, "top_themes")
	if limit <= 0 {
		limit = defaultTopThemes
	}
	if limit > len(themes) {
		limit = len(themes)
	}

	top := make([]any, limit)
	for i := 0; i < limit; i++ {
		top[i] = map[string]any{
			"theme":    themes[i].word,
			"mentions": themes[i].count,
		}
	}

	return NewResult(map[string]any{
		"themes":     top,
		"note_count": len(notes),
	}), nil
}

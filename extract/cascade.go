package extract

import "github.com/PuerkitoBio/goquery"

// Strategy is one named step of a field cascade. Extract reports false when
// it cannot produce a usable value.
type Strategy[T any] struct {
	Name    string
	Extract func(el *goquery.Selection) (T, bool)
}

// Run tries strategies in order and returns the first value produced along
// with the name of the strategy that produced it.
func Run[T any](el *goquery.Selection, strategies []Strategy[T]) (T, string, bool) {
	for _, s := range strategies {
		if v, ok := s.Extract(el); ok {
			return v, s.Name, true
		}
	}
	var zero T
	return zero, "", false
}

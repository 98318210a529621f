package filters

import (
	"fmt"
	"slices"
	"strings"

	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/registry"

	"resourcewatch/internal/types"
)

var analyzer analysis.Analyzer

func init() {
	cache := registry.NewCache()
	var err error
	analyzer, err = en.AnalyzerConstructor(nil, cache)
	if err != nil {
		panic(err)
	}
}

const (
	ModeInclude = "include"
	ModeExclude = "exclude"
)

// KeywordFilter matches stemmed keywords against the given attributes, so
// "release" also matches "released". Include keeps only matching resources,
// exclude drops them.
func KeywordFilter(name string, keywords []string, mode string, fields []string) (*FilterProcessor, error) {
	if mode == "" {
		mode = ModeInclude
	}
	if mode != ModeInclude && mode != ModeExclude {
		return nil, fmt.Errorf("filter %s: invalid mode %q (must be include or exclude)", name, mode)
	}
	if len(fields) == 0 {
		fields = []string{"title"}
	}

	stemmed := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		stemmed = append(stemmed, analyzeText(strings.ToLower(kw))...)
	}

	return NewFilterProcessor(name, func(res *types.Resource) string {
		matched := ""
		for _, field := range fields {
			for _, token := range analyzeText(res.Attribute(field)) {
				if slices.Contains(stemmed, token) {
					matched = token
					break
				}
			}
			if matched != "" {
				break
			}
		}

		switch {
		case mode == ModeInclude && matched == "":
			return "no keyword matched"
		case mode == ModeExclude && matched != "":
			return fmt.Sprintf("matched excluded keyword %q", matched)
		default:
			return ""
		}
	}), nil
}

func analyzeText(text string) []string {
	if text == "" {
		return nil
	}

	tokenStream := analyzer.Analyze([]byte(text))
	tokens := make([]string, 0, len(tokenStream))
	for _, token := range tokenStream {
		tokens = append(tokens, string(token.Term))
	}
	return tokens
}

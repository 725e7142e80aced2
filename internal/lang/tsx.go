package lang

import (
	"github.com/smacker/go-tree-sitter/typescript/tsx"
)

func init() {
	Languages["tsx"] = &Language{
		Name:       "tsx",
		Extensions: []string{".tsx"},
		Typed:      true,
		lang:       tsx.GetLanguage(),
	}
}

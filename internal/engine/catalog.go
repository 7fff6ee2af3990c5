package engine

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ashureev/capylingo/internal/evaluator"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// Choice is one accepted value of a menu together with its display names
// and alternate spellings.
type Choice struct {
	Key      string            `yaml:"key"`
	Names    map[string]string `yaml:"names"`
	Synonyms []string          `yaml:"synonyms"`
}

// Label returns the display name of c in lang.
func (c Choice) Label(lang string) string {
	if n, ok := c.Names[lang]; ok && n != "" {
		return n
	}
	return c.Key
}

// vocabulary matches normalized input against a fixed list of choices.
type vocabulary struct {
	choices []Choice
	index   map[string]int
}

func newVocabulary(group string, choices []Choice) (vocabulary, error) {
	if len(choices) == 0 {
		return vocabulary{}, fmt.Errorf("catalog: %s is empty", group)
	}
	v := vocabulary{choices: choices, index: make(map[string]int)}
	for i, c := range choices {
		if c.Key == "" {
			return vocabulary{}, fmt.Errorf("catalog: %s entry %d has no key", group, i)
		}
		spellings := append([]string{c.Key}, c.Synonyms...)
		for _, n := range c.Names {
			spellings = append(spellings, n)
		}
		for _, s := range spellings {
			norm := evaluator.Normalize(s)
			if norm == "" {
				continue
			}
			if j, ok := v.index[norm]; ok && j != i {
				return vocabulary{}, fmt.Errorf("catalog: %s spelling %q is ambiguous between %s and %s",
					group, s, choices[j].Key, c.Key)
			}
			v.index[norm] = i
		}
	}
	return v, nil
}

// match resolves a 1-based selection or free text to a choice.
func (v vocabulary) match(text string, selection *int) (Choice, error) {
	if selection != nil {
		n := *selection
		if n < 1 || n > len(v.choices) {
			return Choice{}, ErrInvalidInput
		}
		return v.choices[n-1], nil
	}
	i, ok := v.index[evaluator.Normalize(text)]
	if !ok {
		return Choice{}, ErrInvalidInput
	}
	return v.choices[i], nil
}

func (v vocabulary) find(key string) (Choice, bool) {
	for _, c := range v.choices {
		if c.Key == key {
			return c, true
		}
	}
	return Choice{}, false
}

func (v vocabulary) labels(lang string) []string {
	out := make([]string, len(v.choices))
	for i, c := range v.choices {
		out[i] = c.Label(lang)
	}
	return out
}

// Catalog is the vocabulary and message set of the conversation.
type Catalog struct {
	defaultLang string
	languages   vocabulary
	levels      vocabulary
	topics      vocabulary
	gameTypes   vocabulary
	messages    map[string]map[string]string
}

type catalogFile struct {
	DefaultLanguage string                       `yaml:"default_language"`
	Languages       []Choice                     `yaml:"languages"`
	Levels          []Choice                     `yaml:"levels"`
	Topics          []Choice                     `yaml:"topics"`
	GameTypes       []Choice                     `yaml:"game_types"`
	Messages        map[string]map[string]string `yaml:"messages"`
}

// DefaultCatalog parses the embedded catalog.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultCatalogYAML)
}

// ParseCatalog parses and checks a YAML catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if f.DefaultLanguage == "" {
		return nil, errors.New("catalog: default_language is required")
	}

	c := &Catalog{defaultLang: f.DefaultLanguage, messages: f.Messages}
	var err error
	if c.languages, err = newVocabulary("languages", f.Languages); err != nil {
		return nil, err
	}
	if c.levels, err = newVocabulary("levels", f.Levels); err != nil {
		return nil, err
	}
	if c.topics, err = newVocabulary("topics", f.Topics); err != nil {
		return nil, err
	}
	if c.gameTypes, err = newVocabulary("game_types", f.GameTypes); err != nil {
		return nil, err
	}
	if _, ok := c.languages.find(c.defaultLang); !ok {
		return nil, fmt.Errorf("catalog: default language %q is not a listed language", c.defaultLang)
	}
	for key, texts := range c.messages {
		if texts[c.defaultLang] == "" {
			return nil, fmt.Errorf("catalog: message %q has no %s text", key, c.defaultLang)
		}
	}
	return c, nil
}

// lang returns native when it is set, else the default language.
func (c *Catalog) lang(native string) string {
	if native == "" {
		return c.defaultLang
	}
	return native
}

// Text returns the message key in lang with {name} placeholders replaced from
// args, given as name, value pairs. Missing translations fall back to the
// default language.
func (c *Catalog) Text(lang, key string, args ...string) string {
	texts := c.messages[key]
	t, ok := texts[lang]
	if !ok || t == "" {
		t = texts[c.defaultLang]
	}
	if len(args) < 2 {
		return t
	}
	pairs := make([]string, 0, len(args))
	for i := 0; i+1 < len(args); i += 2 {
		pairs = append(pairs, "{"+args[i]+"}", args[i+1])
	}
	return strings.NewReplacer(pairs...).Replace(t)
}

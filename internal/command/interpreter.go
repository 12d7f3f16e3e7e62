package command

import (
	"log/slog"
	"strings"
	"unicode"

	"github.com/dictalabs/dicta-core/internal/config"
)

// Interpreter matches transcripts against the phrase table. It is pure:
// interpreting the same transcript twice yields the same outputs.
type Interpreter struct {
	cfg      config.CommandsConfig
	grammar  map[string]entry
	maxWords int
	log      *slog.Logger
}

func NewInterpreter(cfg config.CommandsConfig, log *slog.Logger) *Interpreter {
	grammar, maxWords := buildGrammar(cfg.Custom)
	return &Interpreter{
		cfg:      cfg,
		grammar:  grammar,
		maxWords: maxWords,
		log:      log.With(slog.String("component", "command")),
	}
}

// Interpret resolves a final transcript into literal text and editing
// actions, in spoken order. Command matching is case-insensitive and
// ignores punctuation the recognizer may have attached to words.
func (i *Interpreter) Interpret(text string) []Output {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	if !i.cfg.Enabled {
		return []Output{Literal(strings.Join(words, " "))}
	}

	norm := make([]string, len(words))
	for n, w := range words {
		norm[n] = normalizeToken(w)
	}

	em := emitter{capitalizeSentences: i.cfg.CapitalizeSentences}
	pos := 0
	for pos < len(words) {
		matched := false
		// Longest phrase first so "question mark" beats any shorter
		// phrase that is a prefix of it.
		for n := min(i.maxWords, len(words)-pos); n >= 1; n-- {
			phrase := strings.Join(norm[pos:pos+n], " ")
			e, ok := i.grammar[phrase]
			if !ok {
				continue
			}
			em.apply(e)
			pos += n
			matched = true
			break
		}
		if !matched {
			em.word(words[pos])
			pos++
		}
	}
	return em.finish()
}

// normalizeToken lowercases a word and strips recognizer-attached
// punctuation so "Period." still matches the "period" phrase.
func normalizeToken(w string) string {
	return strings.ToLower(strings.Trim(w, `.,!?;:"'`))
}

// emitter accumulates literal runs and flushes them around actions so the
// injector receives outputs in spoken order.
type emitter struct {
	capitalizeSentences bool

	outputs       []Output
	b             strings.Builder
	pendingFormat Action
	noSpaceBefore bool
	sentenceStart bool
}

func (e *emitter) word(w string) {
	switch e.pendingFormat {
	case ActionCapitalizeNext:
		w = capitalizeWord(w)
	case ActionUppercaseNext:
		w = strings.ToUpper(w)
	case ActionLowercaseNext:
		w = strings.ToLower(w)
	default:
		if e.sentenceStart && e.capitalizeSentences {
			w = capitalizeWord(w)
		}
	}
	e.pendingFormat = ""
	e.sentenceStart = false
	e.append(w)
}

func (e *emitter) apply(en entry) {
	switch en.kind {
	case kindSuffix:
		e.b.WriteString(en.text)
		e.noSpaceBefore = false
		if en.text == "." || en.text == "!" || en.text == "?" {
			e.sentenceStart = true
		}
	case kindPrefix:
		e.append(en.text)
		e.noSpaceBefore = true
	case kindAction:
		e.flush()
		e.outputs = append(e.outputs, Act(en.action))
		if en.action == ActionNewline || en.action == ActionNewParagraph {
			e.sentenceStart = true
		}
	case kindFormat:
		// At an output boundary the action is surfaced so observers see
		// it; inside a literal run the format is applied directly to the
		// next word and the marker would only split the text.
		if e.b.Len() == 0 {
			e.outputs = append(e.outputs, Act(en.action))
		}
		e.pendingFormat = en.action
	case kindLiteral:
		e.word(en.text)
	}
}

func (e *emitter) append(w string) {
	if e.b.Len() > 0 && !e.noSpaceBefore {
		e.b.WriteByte(' ')
	}
	e.b.WriteString(w)
	e.noSpaceBefore = false
}

func (e *emitter) flush() {
	if e.b.Len() == 0 {
		return
	}
	e.outputs = append(e.outputs, Literal(e.b.String()))
	e.b.Reset()
	e.noSpaceBefore = false
}

func (e *emitter) finish() []Output {
	e.flush()
	return e.outputs
}

func capitalizeWord(w string) string {
	r := []rune(w)
	if len(r) == 0 {
		return w
	}
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
